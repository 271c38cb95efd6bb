package middleware

import (
	"encoding/json"
	"io"
)

type httptestResponse struct {
	status     int
	retryAfter string
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
