// Package poolcache выдаёт ученикам наборы вопросов экзаменов.
//
// Движок держит в памяти три уровня кеша пулов (пулы попыток, общие пулы предмета,
// уникальные пулы покупок) и истории попыток, покупок и повторов. Состояние не переживает
// перезапуск: хост восстанавливает истории покупок из журнала через RecordExamPurchase.
package poolcache
