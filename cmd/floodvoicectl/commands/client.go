package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	msg := gjson.Get(e.Body, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

type client struct {
	base  string
	token string
	hc    *http.Client
}

func (o *options) client() *client {
	return &client{
		base:  strings.TrimRight(o.serverURL, "/"),
		token: o.token,
		hc:    &http.Client{Timeout: o.timeout},
	}
}

// do sends body as JSON (when non-nil) and returns the raw response body.
func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &apiError{Status: resp.StatusCode, Body: string(out)}
	}
	return out, nil
}

// printJSON pretty-prints a JSON response; anything else is written as is.
func printJSON(w io.Writer, b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		_, err = w.Write(b)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func escape(id string) string { return url.PathEscape(id) }

// call performs one request and prints the response to the command's output.
// Error bodies go to stderr so details such as a call log id are not lost.
func call(cmd *cobra.Command, opts *options, method, path string, body any) error {
	out, err := opts.client().do(cmd.Context(), method, path, body)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && strings.TrimSpace(ae.Body) != "" {
			_ = printJSON(cmd.ErrOrStderr(), out)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
