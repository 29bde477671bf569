package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
)

func criticalEvent() model.ChangeEvent {
	return model.ChangeEvent{
		Kind:        model.ChangeCriticalDrop,
		TenantID:    "acme",
		Query:       "alpha",
		URL:         "https://www.example.com/page",
		Domain:      "example.com",
		OldPosition: 5,
		NewPosition: 11,
		Change:      6,
	}
}

func testDigest() model.Digest {
	return model.Digest{
		TenantID:      "acme",
		Date:          "2026-03-01",
		TotalSearches: 2,
		UniqueLinks:   3,
		TopLinks: []model.LinkStats{
			{URL: "https://a.com", Domain: "a.com", TotalAppearances: 2, AveragePosition: 1.5},
		},
	}
}

// recorder is a Notifier that records payloads.
type recorder struct {
	mu      sync.Mutex
	changes []model.ChangeEvent
	digests []model.Digest
	err     error
	block   chan struct{}
}

func (r *recorder) NotifyChange(_ context.Context, ev model.ChangeEvent) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ev)
	return r.err
}

func (r *recorder) NotifyDigest(_ context.Context, d model.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests = append(r.digests, d)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

// --- Webhook ---

func TestWebhook_PostsEnvelope(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(config.WebhookConfig{URL: srv.URL})
	require.NoError(t, w.NotifyChange(context.Background(), criticalEvent()))

	assert.Equal(t, TypeChange, got.Type)
	require.NotNil(t, got.Change)
	assert.Equal(t, model.ChangeCriticalDrop, got.Change.Kind)
	assert.Equal(t, 6, got.Change.Change)
}

func TestWebhook_Digest(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(config.WebhookConfig{URL: srv.URL}).NotifyDigest(context.Background(), testDigest()))
	assert.Equal(t, TypeDigest, got.Type)
	require.NotNil(t, got.Digest)
	assert.Equal(t, 3, got.Digest.UniqueLinks)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(config.WebhookConfig{URL: srv.URL}).NotifyChange(context.Background(), criticalEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

// --- Email ---

func TestEmail_CriticalDrop(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	e := NewEmail(config.EmailConfig{
		Host: "smtp.example.com", Port: 587, From: "bot@example.com",
		Recipients: []string{"ops@example.com", "seo@example.com"},
	})
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	require.NoError(t, e.NotifyChange(context.Background(), criticalEvent()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com", "seo@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: CRITICAL: example.com dropped 6 positions")
	assert.Contains(t, gotMsg, "Content-Type: text/html")
	assert.Contains(t, gotMsg, "Critical position drop")
	assert.Contains(t, gotMsg, "#5 &rarr; #11 (+6)")
}

func TestEmail_DigestTable(t *testing.T) {
	var msg string
	e := NewEmail(config.EmailConfig{Host: "h", Port: 25, From: "f@x", Recipients: []string{"r@x"}, Username: "u", Password: "p"})
	e.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, m []byte) error {
		assert.NotNil(t, a)
		msg = string(m)
		return nil
	}

	require.NoError(t, e.NotifyDigest(context.Background(), testDigest()))
	assert.Contains(t, msg, "Daily search summary (2026-03-01)")
	assert.Contains(t, msg, "<td>1</td><td>a.com</td><td>#1.5</td><td>2</td>")
}

func TestEmail_NoRecipients(t *testing.T) {
	e := NewEmail(config.EmailConfig{Host: "h"})
	e.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("should not send")
		return nil
	}
	assert.Error(t, e.NotifyChange(context.Background(), criticalEvent()))
}

// --- SQS ---

// mockSQSMiddleware short-circuits the SDK call with output or err.
func mockSQSMiddleware(output any, err error, seen func(any)) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Initialize.Add(
			middleware.InitializeMiddlewareFunc("MockMiddleware", func(_ context.Context, in middleware.InitializeInput, _ middleware.InitializeHandler) (middleware.InitializeOutput, middleware.Metadata, error) {
				if seen != nil {
					seen(in.Parameters)
				}
				return middleware.InitializeOutput{Result: output}, middleware.Metadata{}, err
			}),
			middleware.Before,
		)
	}
}

func TestSQS_SendsEnvelope(t *testing.T) {
	var input *sqs.SendMessageInput
	client := sqs.NewFromConfig(aws.Config{Region: "eu-central-1"}, func(o *sqs.Options) {
		o.APIOptions = append(o.APIOptions, mockSQSMiddleware(&sqs.SendMessageOutput{}, nil, func(p any) {
			input, _ = p.(*sqs.SendMessageInput)
		}))
	})

	s := NewSQS(client, "https://sqs.example/queue")
	require.NoError(t, s.NotifyChange(context.Background(), criticalEvent()))

	require.NotNil(t, input)
	assert.Equal(t, "https://sqs.example/queue", aws.ToString(input.QueueUrl))
	assert.Contains(t, aws.ToString(input.MessageBody), `"kind":"critical_drop"`)
	assert.Equal(t, "acme", aws.ToString(input.MessageAttributes["tenant_id"].StringValue))
	assert.Equal(t, TypeChange, aws.ToString(input.MessageAttributes["type"].StringValue))
}

func TestSQS_Error(t *testing.T) {
	client := sqs.NewFromConfig(aws.Config{Region: "eu-central-1"}, func(o *sqs.Options) {
		o.APIOptions = append(o.APIOptions, mockSQSMiddleware(nil, errors.New("aws error"), nil))
	})

	err := NewSQS(client, "q").NotifyDigest(context.Background(), testDigest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send message to q")
}

// --- Multi / New ---

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("smtp down")}
	m := Multi{bad, ok}

	err := m.NotifyChange(context.Background(), criticalEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, 1, ok.count(), "a failing sink does not stop the others")
}

func TestNew_Sinks(t *testing.T) {
	n, err := New(context.Background(), config.NotifyConfig{})
	require.NoError(t, err)
	assert.IsType(t, Log{}, n)

	n, err = New(context.Background(), config.NotifyConfig{Sinks: []string{"log", "webhook"}})
	require.NoError(t, err)
	assert.Len(t, n.(Multi), 2)

	_, err = New(context.Background(), config.NotifyConfig{Sinks: []string{"pager"}})
	assert.Error(t, err)
}

// --- Dispatcher ---

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	r := &recorder{}
	d := NewDispatcher(r, 8)

	d.Enqueue(criticalEvent(), criticalEvent())
	d.EnqueueDigest(testDigest())

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, r.count())
	assert.Len(t, r.digests, 1)

	// Enqueue after close is a no-op and Close stays idempotent.
	d.Enqueue(criticalEvent())
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, r.count())
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	d := NewDispatcher(r, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Enqueue(criticalEvent())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a slow sink")
	}

	close(r.block)
	require.NoError(t, d.Close(context.Background()))
	assert.LessOrEqual(t, r.count(), 2)
	assert.GreaterOrEqual(t, r.count(), 1)
}

func TestDispatcher_SwallowsErrors(t *testing.T) {
	r := &recorder{err: errors.New("boom")}
	d := NewDispatcher(r, 4)

	d.Enqueue(criticalEvent())
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, r.count())
}

func TestDispatcher_CloseHonorsContext(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	defer close(r.block)
	d := NewDispatcher(r, 4)
	d.Enqueue(criticalEvent())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLog_NeverFails(t *testing.T) {
	assert.NoError(t, Log{}.NotifyChange(context.Background(), criticalEvent()))
	assert.NoError(t, Log{}.NotifyDigest(context.Background(), testDigest()))
}
