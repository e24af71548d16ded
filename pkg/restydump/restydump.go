// Package restydump writes a plain-text transcript of every HTTP exchange a resty client
// makes, for debugging what a portal actually answered.
package restydump

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives one transcript per exchange.
type Output interface {
	Write(id string, contents string)
}

// DirOutput writes every transcript to its own file in a directory.
type DirOutput struct {
	directory string
}

func NewDirOutput(dir string) (DirOutput, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return DirOutput{}, err
	}
	return DirOutput{directory: dir}, nil
}

func (o DirOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write http transcript", "id", id, "err", err)
	}
}

var redacted = []string{"Authorization", "G-Recaptcha-Response", "Cookie", "Set-Cookie"}

type idKeyType int

var idKey idKeyType

type capture struct {
	name    string
	output  Output
	counter *uint64
}

// Capture registers hooks on client writing each completed exchange to output, ids are
// "<name>-<sequence>".
func Capture(client *resty.Client, name string, output Output) {
	var counter uint64
	c := capture{name: name, output: output, counter: &counter}
	client.OnBeforeRequest(c.onBeforeRequest)
	client.OnAfterResponse(c.onAfterResponse)
}

func (c capture) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	id := fmt.Sprintf("%s-%04d", c.name, atomic.AddUint64(c.counter, 1))
	req.SetContext(context.WithValue(req.Context(), idKey, id))
	return nil
}

func (c capture) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	id, ok := res.Request.Context().Value(idKey).(string)
	if !ok {
		return nil
	}
	c.output.Write(id, Format(res))
	return nil
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			if slices.Contains(redacted, http.CanonicalHeaderKey(k)) {
				v = "[redacted]"
			}
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err)
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err)
	}
	return string(contents)
}

// 1: request method
// 2: request url
// 3: request headers
// 4: request body
// 5: response status
// 6: response url
// 7: response headers
// 8: response body
const transcriptTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

// Format renders the request and response of res as a transcript.
func Format(res *resty.Response) string {
	var requestHeaders http.Header
	if res.Request.RawRequest != nil {
		requestHeaders = res.Request.RawRequest.Header
	}

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		location, err := res.RawResponse.Location()
		if err == nil {
			responseUrl = location.String()
		}
	}

	return fmt.Sprintf(
		transcriptTemplate,
		res.Request.Method, res.Request.URL,
		formatHeaders(requestHeaders),
		formatRequestBody(res.Request.RawRequest),
		res.Status(), responseUrl,
		formatHeaders(res.Header()),
		res.String(),
	)
}
