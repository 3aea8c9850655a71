package carrier

import "regexp"

// DigitsPattern is the allowed character set for an operator-submitted
// DTMF string: the twelve telephone keypad symbols, the four DTMF-only
// "A-D" tones, pause markers (w = 0.5s, W = 1s), and spaces as a
// readability separator.
var DigitsPattern = regexp.MustCompile(`^[0-9*#A-DwW ]+$`)

// ValidateDigits reports whether digits is a non-empty string made up
// only of valid DTMF symbols.
func ValidateDigits(digits string) bool {
	if digits == "" {
		return false
	}
	return DigitsPattern.MatchString(digits)
}

// toneFrequencies is the standard DTMF dual-tone frequency table (Hz),
// keyed by keypad symbol. Present for carriers or providers that need the
// session to synthesize in-band tones itself rather than delegating to a
// carrier-side "play digits" primitive.
var toneFrequencies = map[byte][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477}, 'A': {697, 1633},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477}, 'B': {770, 1633},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477}, 'C': {852, 1633},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477}, 'D': {941, 1633},
}

// ToneFrequencies returns the (low, high) frequency pair in Hz for a
// single DTMF symbol, and whether the symbol has one (pause markers 'w'
// and 'W' do not).
func ToneFrequencies(symbol byte) (low, high float64, ok bool) {
	pair, found := toneFrequencies[symbol]
	if !found {
		return 0, 0, false
	}
	return pair[0], pair[1], true
}
