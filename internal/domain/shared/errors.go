// Package shared содержит общие типы лиги: идентификаторы, ошибки, события.
// Пакет не зависит от инфраструктуры.
package shared

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Интерфейсный слой выбирает HTTP-статус по виду,
// поэтому каждая доменная ошибка ссылается ровно на один из них.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// 400
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// 409
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// 401 / 403: раскрытие данных запрещено
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// 500, текст наружу не отдаётся
	ErrCompute = errors.New("compute error")

	// Временные: пакетная обработка повторяет когорту, HTTP отвечает 503.
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrServiceUnavailable     = errors.New("service unavailable")
	ErrTimeout                = errors.New("operation timeout")
)

// DomainError - ошибка с указанием подсистемы и операции.
// Kind отвечает за классификацию, Err хранит исходную причину.
type DomainError struct {
	Domain  string // league, accountability, badge, streak
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is совпадает и с видом, и с причиной.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError добавляет контекст к ошибке хранилища или внешнего сервиса.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ValidationError - ошибка входных данных (400).
func ValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// AuthorizationError - отказ в раскрытии данных (403).
func AuthorizationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrForbidden, message)
}

// ComputeError - сбой хранилища или агрегации (500).
func ComputeError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrCompute, "computation failed", err)
}

// Лига
var (
	ErrMemberNotFound  = NewDomainError("league", "FindMember", ErrNotFound, "league member not found")
	ErrNotSeated       = NewDomainError("league", "FindMembership", ErrNotFound, "user has no cohort this week")
	ErrInvalidTier     = NewDomainError("league", "Validate", ErrValueOutOfRange, "tier must be between 1 and 10")
	ErrInvalidWeekKey  = NewDomainError("league", "Validate", ErrInvalidFormat, "week must be a Monday in YYYY-MM-DD form")
	ErrWeekNotClosable = NewDomainError("league", "RunBatch", ErrInvalidInput, "week has not ended yet")
)

// Партнёрство
var (
	ErrRelationshipNotFound = NewDomainError("accountability", "Find", ErrNotFound, "relationship not found")
	ErrNotMutual            = NewDomainError("accountability", "PartnerReport", ErrForbidden, "partnership is not mutually active")
	ErrSelfPartnership      = NewDomainError("accountability", "Invite", ErrInvalidInput, "cannot partner with self")
	ErrInvalidInviteToken   = NewDomainError("accountability", "Accept", ErrForbidden, "invite token does not match")
	ErrRelationshipRevoked  = NewDomainError("accountability", "Accept", ErrStateTransition, "relationship was revoked")
)

// Значки
var (
	ErrInvalidCatalog  = NewDomainError("badge", "LoadCatalog", ErrInvalidInput, "invalid badge catalog")
	ErrUnknownRuleKind = NewDomainError("badge", "LoadCatalog", ErrInvalidInput, "unknown badge rule kind")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsCompute(err error) bool       { return errors.Is(err, ErrCompute) }

// IsValidation покрывает все виды ошибок ввода.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrValidation, ErrInvalidID, ErrInvalidInput, ErrEmptyValue, ErrNegativeValue, ErrValueOutOfRange, ErrInvalidFormat} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func IsAuthorization(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsRetryable - ошибка временная, операцию можно повторить.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
