package payout

// ParseBool interprets a decrypted boolean. It accepts little-endian integer
// bytes ([1,0,0,...]) as well as the strings "0"/"1"/"false"/"true".
// Empty input is false; otherwise any byte other than 0x00 or ASCII '0'
// makes it true.
func ParseBool(plaintext []byte) bool {
	if len(plaintext) == 0 {
		return false
	}
	switch string(plaintext) {
	case "0", "false":
		return false
	case "1", "true":
		return true
	}
	for _, b := range plaintext {
		if b != 0 && b != '0' {
			return true
		}
	}
	return false
}
