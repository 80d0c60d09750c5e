package authcore

import "net/mail"

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// LoginInput is the credential pair presented to [Manager.Login].
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ValidateLogin checks a login request and returns the list of field
// errors, empty when the input is valid. Pure function; the caller decides
// whether to short-circuit.
func ValidateLogin(in LoginInput) []FieldError {
	var errs []FieldError
	switch {
	case in.Email == "":
		errs = append(errs, FieldError{Field: "email", Message: "is required"})
	default:
		if _, err := mail.ParseAddress(in.Email); err != nil {
			errs = append(errs, FieldError{Field: "email", Message: "is not a valid e-mail address"})
		}
	}
	if in.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "is required"})
	}
	return errs
}

// ValidateRegistration checks a registration request. Registration is
// stricter than login about passwords: the minimum length gate belongs
// here, not on the comparison path.
func ValidateRegistration(name string, in LoginInput) []FieldError {
	errs := ValidateLogin(in)
	if name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "is required"})
	}
	if in.Password != "" && len(in.Password) < 8 {
		errs = append(errs, FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	return errs
}
