package domain

import "errors"

// Тексты ошибок валидации попадают в историю саги, поэтому совпадают с сообщениями,
// которые видят операторы и другие сервисы.
var (
	// Пустой список товаров.
	ErrProductsRequired = errors.New("Products list is empty")
	// Не заданы идентификатор заказа или транзакции.
	ErrOrderIdentityRequired = errors.New("OrderId and TransactionId must be informed")
	// Товар без кода.
	ErrProductRequired = errors.New("Product must be informed")
	// Отрицательное количество или цена товара.
	ErrInvalidProduct = errors.New("invalid order product")
	// ErrDuplicateTransaction - шаг для этой пары (order, transaction) уже выполнялся.
	ErrDuplicateTransaction = errors.New("There's another transactionId for this validation.")
	// ErrProductNotFound - товара нет в каталоге.
	ErrProductNotFound = errors.New("Product does not exist in database!")
	// ErrInventoryNotFound - для товара нет складской записи.
	ErrInventoryNotFound = errors.New("Inventory not found by informed product.")
	// ErrOutOfStock - запрошено больше, чем доступно.
	ErrOutOfStock = errors.New("Product is out of stock!")
	// ErrAmountBelowMinimum дополняется значением минимальной суммы.
	ErrAmountBelowMinimum = errors.New("The minimum amount available is")
	// ErrPaymentNotFound - нет записи платежа по ключу.
	ErrPaymentNotFound = errors.New("Payment not found by orderId and transactionId")
	// ErrValidationNotFound - нет записи проверки по ключу.
	ErrValidationNotFound = errors.New("Validation not found by orderId and transactionId")

	// ErrStorage оборачивает инфраструктурные ошибки хранилищ.
	ErrStorage = errors.New("storage error")
	// ErrSerialization - событие не удалось закодировать или декодировать.
	ErrSerialization = errors.New("serialization error")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists - заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrEventNotFound - нет события по заданным фильтрам.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventFilterRequired - не задан ни orderId, ни transactionId.
	ErrEventFilterRequired = errors.New("orderId or transactionId must be informed")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyOutcomeNotFinal     = errors.New("idempotency outcome must be done or failed")
)

// ErrorClass - категория ошибки для логов и метрик.
type ErrorClass string

const (
	ErrorClassValidation    ErrorClass = "validation"
	ErrorClassStorage       ErrorClass = "storage"
	ErrorClassSerialization ErrorClass = "serialization"
)

// ClassifyError относит ошибку к одной из категорий. Для маршрутизации саги
// storage и validation равнозначны, различие нужно только для наблюдаемости.
func ClassifyError(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrStorage):
		return ErrorClassStorage
	case errors.Is(err, ErrSerialization):
		return ErrorClassSerialization
	default:
		return ErrorClassValidation
	}
}

// IsStorageError проверяет, что ошибка инфраструктурная и её можно повторить.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsDuplicateTransaction проверяет, что ошибка сигнализирует о повторной обработке.
func IsDuplicateTransaction(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}
