package security

import (
	"regexp"
	"strings"
)

// sensitiveFields contains field names that should be masked in logs.
var sensitiveFields = map[string]bool{
	"api_key":          true,
	"api_secret":       true,
	"jwt_secret":       true,
	"secret":           true,
	"password":         true,
	"totp":             true,
	"token":            true,
	"access_token":     true,
	"refresh_token":    true,
	"feed_token":       true,
	"encrypted_token":  true,
	"vault_passphrase": true,
	"authorization":    true,
}

// sensitivePatterns contains regex patterns for secrets embedded in free text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|jwt[_-]?secret|access[_-]?token|refresh[_-]?token|password|totp)[=:]\s*["']?[^\s"',}]+["']?`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), // JWTs
}

// IsSensitiveField reports whether a field with this name holds a secret.
func IsSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSecrets masks secrets found in free text such as error messages.
func MaskSecrets(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			for _, sep := range []string{"=", ":", " "} {
				if i := strings.Index(match, sep); i > 0 {
					secret := strings.Trim(match[i+1:], "\"' ")
					return match[:i+1] + MaskCredential(secret)
				}
			}
			return MaskCredential(match)
		})
	}
	return result
}

// MaskFields returns a copy of data with sensitive values masked.
func MaskFields(data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		strVal, isString := v.(string)
		switch {
		case IsSensitiveField(k) && isString:
			result[k] = MaskCredential(strVal)
		case IsSensitiveField(k):
			result[k] = "***"
		case isString:
			result[k] = MaskSecrets(strVal)
		default:
			result[k] = v
		}
	}
	return result
}
