package model

// ErrorKind: класс отказа. Сам по себе является ошибкой, поэтому
// errors.Is(err, model.KindNotFound) работает для любой обёрнутой Rejection.
type ErrorKind string

const (
	KindValidation        ErrorKind = "ValidationError"
	KindIneligible        ErrorKind = "IneligibleError"
	KindLimitExceeded     ErrorKind = "LimitExceededError"
	KindIllegalTransition ErrorKind = "IllegalTransitionError"
	KindNotFound          ErrorKind = "NotFoundError"
	KindDeliveryFailed    ErrorKind = "DeliveryFailedError"
)

func (k ErrorKind) Error() string {
	return string(k)
}

// Rejection: бизнес-отказ с конкретной причиной, которую фронтенд показывает как есть.
type Rejection struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// NewRejection создаёт отказ указанного класса.
func NewRejection(kind ErrorKind, code, message string) *Rejection {
	return &Rejection{Kind: kind, Code: code, Message: message}
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error {
	return r.Kind
}
