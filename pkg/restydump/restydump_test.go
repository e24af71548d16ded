package restydump

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex       sync.Mutex
	transcripts map[string]string
}

func (o *memoryOutput) Write(id, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.transcripts == nil {
		o.transcripts = map[string]string{}
	}
	o.transcripts[id] = contents
}

func TestCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-portal", "1")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	out := &memoryOutput{}
	client := resty.New()
	Capture(client, "portal", out)

	_, err := client.R().
		SetHeader("g-recaptcha-response", "secret-token").
		SetBody(map[string]string{"TICKET": "PM451052"}).
		Post(srv.URL + "/lookup")
	require.NoError(t, err)
	_, err = client.R().Get(srv.URL + "/again")
	require.NoError(t, err)

	require.Len(t, out.transcripts, 2)
	first := out.transcripts["portal-0001"]
	require.Contains(t, first, "POST "+srv.URL+"/lookup")
	require.Contains(t, first, `{"TICKET":"PM451052"}`)
	require.Contains(t, first, "G-Recaptcha-Response: [redacted]")
	require.NotContains(t, first, "secret-token")
	require.Contains(t, first, "X-Portal: 1")
	require.Contains(t, first, `{"ok":true}`)
	require.Contains(t, out.transcripts["portal-0002"], "GET "+srv.URL+"/again")
}

func TestDirOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	out, err := NewDirOutput(dir)
	require.NoError(t, err)

	out.Write("portal-0001", "transcript")
	contents, err := os.ReadFile(filepath.Join(dir, "portal-0001.txt"))
	require.NoError(t, err)
	require.Equal(t, "transcript", string(contents))
}
