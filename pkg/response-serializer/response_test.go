package serializer

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestTimedResponseSerialization(t *testing.T) {
	res := &http.Response{
		StatusCode: 201,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}
	res.Header.Add("Test", "-ing")
	reqTime := time.Now()
	resTime := reqTime.Add(time.Second)
	bts, err := StoredResponseToBytes(TimedResponse{
		Response:     res,
		ResponseTime: resTime,
		RequestTime:  reqTime,
	})
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}

	res2, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.Response.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.Response.StatusCode)
	}
	if res2.Response.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", res2.Response.Header)
	}
	if res2.Response.Header.Get(responseTimeHeaderName) != "" || res2.Response.Header.Get(requestTimeHeaderName) != "" {
		t.Fatalf("Timing headers left in %+v", res2.Response.Header)
	}
	if res2.ResponseTime.Unix() != resTime.Unix() || res2.RequestTime.Unix() != reqTime.Unix() {
		t.Fatalf("Times are %v and %v", res2.RequestTime, res2.ResponseTime)
	}
	if body, _ := io.ReadAll(res2.Response.Body); string(body) != `{"ok":true}` {
		t.Fatalf("Stored body: %s", body)
	}
	// the input response stays readable and without the timing headers
	if body, _ := io.ReadAll(res.Body); string(body) != `{"ok":true}` {
		t.Fatalf("Original body: %s", body)
	}
	if res.Header.Get(responseTimeHeaderName) != "" {
		t.Fatalf("Timing header left on input response %+v", res.Header)
	}
}

func TestCorruptBytes(t *testing.T) {
	if _, err := BytesToStoredResponse([]byte("garbage")); err == nil {
		t.Fatal("Expected error for corrupt bytes")
	}
}
