package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store talking to an in-memory bucket through a
// fake HTTP transport. It covers the operations the blob Store interface
// needs (head, get, create-only put, delete, list) and nothing else.
func NewMockForTests() *Store {
	transport := &bucketTransport{objects: make(map[string]bucketObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: transport}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket", presign: s3.NewPresignClient(client)}
}

type bucketObject struct {
	data        []byte
	contentType string
}

type bucketTransport struct {
	objects map[string]bucketObject
}

func (t *bucketTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Path-style addressing: /<bucket>/<key>.
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return t.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := t.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, nil, objectHeaders(obj)), nil
	case http.MethodGet:
		obj, ok := t.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, obj.data, objectHeaders(obj)), nil
	case http.MethodPut:
		payload, _ := io.ReadAll(req.Body)
		payload = unchunk(payload)
		if _, exists := t.objects[key]; !exists {
			t.objects[key] = bucketObject{data: payload, contentType: req.Header.Get("Content-Type")}
		}
		return respond(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(t.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (t *bucketTransport) list(prefix string) *http.Response {
	keys := make([]string, 0, len(t.objects))
	for k := range t.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(t.objects[k].data))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objectHeaders(obj bucketObject) http.Header {
	return http.Header{
		"Content-Length": {strconv.Itoa(len(obj.data))},
		"Content-Type":   {obj.contentType},
		"ETag":           {`"etag"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
}

func respond(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

// unchunk unwraps a single-chunk aws-chunked payload
// (<hex-size>\r\n<data>\r\n0\r\n...); anything else is returned as-is.
func unchunk(payload []byte) []byte {
	head, rest, ok := strings.Cut(string(payload), "\r\n")
	if !ok {
		return payload
	}
	size, err := strconv.ParseInt(head, 16, 64)
	if err != nil {
		return payload
	}
	data, trailer, ok := strings.Cut(rest, "\r\n")
	if !ok || int64(len(data)) != size || !strings.HasPrefix(trailer, "0") {
		return payload
	}
	return []byte(data)
}
