package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrimony-chat/models"
)

func testClientConfig(wsURL string) ClientConfig {
	return ClientConfig{
		Session:          testSessionConfig(wsURL, 0),
		PageSize:         50,
		TypingIdle:       time.Hour,
		TypingInboundTTL: time.Second,
	}
}

func TestManagerSwapsIdentity(t *testing.T) {
	srv := newWSTestServer(t, true)
	api := newFakeAPI()
	m := NewManager(func(id string) *Client {
		return NewClient(id, testClientConfig(srv.wsURL()), api, nil, zerolog.Nop())
	}, zerolog.Nop())
	t.Cleanup(m.Close)

	var changes []string
	m.OnChange(func(c *Client) {
		if c == nil {
			changes = append(changes, "")
			return
		}
		changes = append(changes, c.Identity())
	})

	_, err := m.Current()
	require.ErrorIs(t, err, ErrNoIdentity)

	first, err := m.SetIdentity(context.Background(), "u1")
	require.NoError(t, err)
	srv.nextConn(t)
	assert.Equal(t, "u1", (<-srv.queries).Get("userId"))
	require.Eventually(t, first.Session().Connected, time.Second, 5*time.Millisecond)

	same, err := m.SetIdentity(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, first, same)

	second, err := m.SetIdentity(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, first.Session().Connected(), "old session is closed before the new one opens")
	srv.nextConn(t)
	assert.Equal(t, "u2", (<-srv.queries).Get("userId"))
	require.Eventually(t, second.Session().Connected, time.Second, 5*time.Millisecond)

	_, err = m.SetIdentity(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, second.Session().Connected())
	_, err = m.Current()
	assert.ErrorIs(t, err, ErrNoIdentity)

	assert.Equal(t, []string{"u1", "u2", ""}, changes)
}

func TestClientStartConversationSharesRequest(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	api.getOrCreate = func(u1, u2 string) (*models.Conversation, error) {
		<-release
		return &models.Conversation{ID: "c1"}, nil
	}
	c := NewClient("u1", testClientConfig("ws://127.0.0.1:1/ws"), api, nil, zerolog.Nop())
	t.Cleanup(c.Close)

	var wg sync.WaitGroup
	results := make([]models.Conversation, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := c.StartConversation(context.Background(), "u2")
			assert.NoError(t, err)
			results[i] = conv
		}(i)
	}
	require.Eventually(t, func() bool { return api.count("get_or_create_conversation") == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, api.count("get_or_create_conversation"))
	for _, conv := range results {
		assert.Equal(t, "c1", conv.ID)
		assert.Equal(t, "u2", conv.OtherParticipant.ID)
	}

	// Once listed, the directory answers without a request.
	_, err := c.StartConversation(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("get_or_create_conversation"))
}

func TestClientViews(t *testing.T) {
	api := newFakeAPI()
	c := NewClient("u1", testClientConfig("ws://127.0.0.1:1/ws"), api, nil, zerolog.Nop())
	t.Cleanup(c.Close)

	_, err := c.OpenConversation(context.Background(), "c1")
	require.ErrorIs(t, err, ErrConversationNotFound)

	c.Directory().Upsert(conversation("c1", "u2", "Asha", 1))
	v, err := c.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)

	again, err := c.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Same(t, v, again)

	got, err := c.View("c1")
	require.NoError(t, err)
	assert.Same(t, v, got)

	require.NoError(t, c.CloseConversation("c1"))
	assert.ErrorIs(t, c.CloseConversation("c1"), ErrViewNotOpen)
	_, err = c.View("c1")
	assert.ErrorIs(t, err, ErrViewNotOpen)
}

func TestManagerSupersededLoginNeverConnects(t *testing.T) {
	srv := newWSTestServer(t, true)
	api := newFakeAPI()
	m := NewManager(func(id string) *Client {
		return NewClient(id, testClientConfig(srv.wsURL()), api, nil, zerolog.Nop())
	}, zerolog.Nop())
	t.Cleanup(m.Close)

	// A second login lands between the first one's swap and its Start.
	var first, second *Client
	var nestedErr error
	m.OnChange(func(c *Client) {
		if c == nil || c.Identity() != "u1" || first != nil {
			return
		}
		first = c
		second, nestedErr = m.SetIdentity(context.Background(), "u2")
	})

	got, err := m.SetIdentity(context.Background(), "u1")
	require.ErrorIs(t, err, ErrIdentityChanged)
	assert.Nil(t, got)
	require.NoError(t, nestedErr)
	require.NotNil(t, first)
	require.NotNil(t, second)

	current, err := m.Current()
	require.NoError(t, err)
	assert.Same(t, second, current)

	srv.nextConn(t)
	assert.Equal(t, "u2", (<-srv.queries).Get("userId"))
	require.Eventually(t, second.Session().Connected, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, srv.hits.Load(), "only the surviving identity dials")
	assert.False(t, first.Session().Connected())
	assert.Zero(t, first.Bus().Len())
}

func TestClosedClientDoesNotStart(t *testing.T) {
	srv := newWSTestServer(t, true)
	c := NewClient("u1", testClientConfig(srv.wsURL()), newFakeAPI(), nil, zerolog.Nop())
	c.Close()

	require.ErrorIs(t, c.Start(context.Background()), ErrClientClosed)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, srv.hits.Load())
	assert.Zero(t, c.Bus().Len())
	assert.False(t, c.Session().Connected())
}
