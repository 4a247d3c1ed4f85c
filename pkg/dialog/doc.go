// Package dialog реализует движок вызовов софтфона: единственный слот вызова,
// автомат состояний сессии на looplab/fsm, обмен offer/answer и завершение
// вызова CANCEL или BYE.
//
// Исходящий вызов:
//
//	info, err := engine.PlaceCall(ctx, "8000") // sip:8000@<домен регистратора>
//	...
//	err = engine.HangUp(ctx)
//
// Входящий INVITE при свободном слоте принимается автоматически (аудио, видео
// отклоняется), при занятом слоте отклоняется ответом 486 Busy Here.
//
// Локальные ошибки предусловий (SessionError) возвращаются синхронно. Ответы сети
// и потеря транспорта переводят вызов в Failed или Ended и приходят уведомлениями.
package dialog
