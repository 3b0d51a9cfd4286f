package jsonhelper

import (
	jsoniter "github.com/json-iterator/go"

	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode marshals t, treating failure as a programming error.
func Encode[T any](t T) []byte {
	b, err := json.Marshal(t)
	if err != nil {
		zap.S().With("t", t).Fatalln("couldn't encode the variable", "error", err)
	}
	return b
}

// Decode unmarshals b into a fresh T, treating failure as a programming
// error. Use only on input this program produced.
func Decode[T any](b []byte) T {
	var t T
	err := json.Unmarshal(b, &t)
	if err != nil {
		zap.S().With("val", string(b)).Fatalln("couldn't decode the variable", "error", err)
	}
	return t
}
