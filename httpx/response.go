package httpx

import (
	"bytes"
	"net/http"
)

// ResponseBuffer records a response so that a caller can inspect it before
// deciding whether to forward it.
type ResponseBuffer interface {
	http.ResponseWriter
	// Status is 200 once anything was written without an explicit status.
	Status() int
	Body() []byte
	Flush(w http.ResponseWriter) error
}

type responseBuffer struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func NewResponseBuffer() ResponseBuffer {
	return &responseBuffer{header: http.Header{}}
}

func (b *responseBuffer) Status() int {
	return b.status
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) Body() []byte {
	return b.body.Bytes()
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

// Flush copies headers, status and body to w.
func (b *responseBuffer) Flush(w http.ResponseWriter) error {
	header := w.Header()
	for key, values := range b.header {
		header[key] = values
	}
	if b.status != 0 {
		w.WriteHeader(b.status)
	}
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
