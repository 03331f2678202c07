package router

import "strconv"

// Validator checks a bound path parameter before the handler runs.
type Validator func(value string) bool

// ValidateNotEmpty rejects an empty segment, as in "/users//posts".
func ValidateNotEmpty(value string) bool {
	return value != ""
}

// ValidateUnsignedInteger accepts decimal digits only.
func ValidateUnsignedInteger(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateUnsignedIntegerMax accepts decimal integers no greater than max.
func ValidateUnsignedIntegerMax(max uint64) Validator {
	return func(value string) bool {
		if !ValidateUnsignedInteger(value) {
			return false
		}
		n, err := strconv.ParseUint(value, 10, 64)
		return err == nil && n <= max
	}
}
