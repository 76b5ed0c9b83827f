package enrollment

import "fmt"

type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindAuth
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by every Service operation. Message is safe to show to
// the client; Err holds the underlying cause and is only ever logged.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind and code, so a wrapped copy of a
// predeclared error still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Code == e.Code
}

var (
	ErrInvalidRequest       = &Error{Kind: KindValidation, Code: "invalid_request", Message: "Requisição inválida."}
	ErrIncompleteFields     = &Error{Kind: KindValidation, Code: "incomplete_fields", Message: "Campos incompletos."}
	ErrPasswordConfirmation = &Error{Kind: KindValidation, Code: "password_confirmation_mismatch", Message: "Senhas não coincidem."}
	ErrInvalidEmail         = &Error{Kind: KindValidation, Code: "invalid_email", Message: "E-mail inválido."}
	ErrInvalidNationalID    = &Error{Kind: KindValidation, Code: "invalid_cpf", Message: "CPF inválido. Digite 11 números."}
	ErrInvalidCourseType    = &Error{Kind: KindValidation, Code: "invalid_course_type", Message: "Tipo de curso inválido."}
	ErrDuplicateIdentity    = &Error{Kind: KindConflict, Code: "duplicate_identity", Message: "Usuário já cadastrado."}

	ErrMissingCredentials = &Error{Kind: KindValidation, Code: "missing_credentials", Message: "Preencha e-mail e senha."}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Code: "user_not_found", Message: "Usuário não encontrado."}
	ErrInvalidPassword    = &Error{Kind: KindAuth, Code: "invalid_password", Message: "Senha incorreta."}

	ErrMissingToken          = &Error{Kind: KindAuth, Code: "missing_token", Message: "Token não fornecido."}
	ErrInvalidOrExpiredToken = &Error{Kind: KindAuth, Code: "invalid_token", Message: "Token inválido ou expirado."}
)

const (
	msgInternal     = "Erro interno no servidor."
	msgListInternal = "Erro ao buscar inscritos."
)

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "server_error", Message: message, Err: err}
}
