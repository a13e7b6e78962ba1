package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhouzirui/nova/internal/model/task"
	"github.com/zhouzirui/nova/internal/service/taskchannel"
)

// SSETransport streams task progress as server-sent events.
type SSETransport struct {
	client *Client
	http   *http.Client
}

// NewSSETransport returns a transport sharing c's credentials. Stream
// requests use a client without a timeout; the channel context bounds them.
func NewSSETransport(c *Client) *SSETransport {
	hc := *c.http
	hc.Timeout = 0
	return &SSETransport{client: c, http: &hc}
}

func (t *SSETransport) Subscribe(ctx context.Context, taskID string) (taskchannel.Stream, error) {
	path := "/api/task-progress/" + url.PathEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.client.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("build progress request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.client.authorize(req.Header)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect progress stream: %w", err)
	}
	if err := t.client.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Next returns the next data event. Comment lines and events without data
// are skipped; multi-line data is joined with newlines.
func (s *sseStream) Next() (task.Frame, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return task.Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		// A blank line dispatches the event; so does the end of the body.
		if line == "" || err == io.EOF {
			if len(data) > 0 {
				var frame task.Frame
				if jerr := json.Unmarshal([]byte(strings.Join(data, "\n")), &frame); jerr != nil {
					return task.Frame{}, fmt.Errorf("decode progress frame: %w", jerr)
				}
				return frame, nil
			}
			if err == io.EOF {
				return task.Frame{}, io.EOF
			}
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
