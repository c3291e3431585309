package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"secure_chat/internal/cryptographic/keys"
	"secure_chat/internal/keystore"
	"secure_chat/internal/model"
	"secure_chat/internal/timeline"
	"secure_chat/internal/utils/log"
)

// ErrKeyUnavailable blocks a send when the peer has never published a key.
// The user gets an explanation instead of a silently dropped message.
var ErrKeyUnavailable = errors.New("peer has not published an encryption key yet")

const pollInterval = 5 * time.Second

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		host  string
		token string

		me        model.Presence
		keys      *keystore.KeyPair
		secretKey *[keys.KeySize]byte

		peerID string

		// cached peer keys by identity; refreshed from the directory on
		// send, consulted as decryption fallback
		cacheMu  sync.Mutex
		keyCache map[string]string

		timeline *timeline.Timeline

		// activeThread guards against a slow history response for one
		// conversation landing after the user switched to another
		activeMu     sync.Mutex
		activeThread string

		conn   *websocket.Conn
		connMu sync.Mutex
	}
)

func NewApp(host, token string, me model.Presence, keyDir string) (*App, error) {
	kp, err := keystore.LoadOrCreate(keyDir)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	_, sec, err := kp.Keys()
	if err != nil {
		return nil, err
	}
	me.PublicKey = kp.PublicKey

	return &App{
		app:       tview.NewApplication(),
		host:      host,
		token:     token,
		me:        me,
		keys:      kp,
		secretKey: sec,
		keyCache:  make(map[string]string),
		timeline:  timeline.New(),
	}, nil
}

// Run connects, announces presence, opens the conversation with the given
// peer and blocks on the UI.
func (c *App) Run(ctx context.Context, peerIdentity string) error {
	conn, err := c.dialRelay()
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	c.conn = conn

	if err := c.goOnline(); err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}

	// also publish through REST so the key is durable even if this socket
	// session dies before the relay persists the announcement
	go func() {
		if err := c.PublishKey(); err != nil {
			log.Debug("rest key publish failed", zap.Error(err))
		}
	}()

	c.switchConversation(peerIdentity)

	go c.listen()
	go c.pollLoop(ctx)

	c.renderUI()
	return nil
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.app.Stop()
}

func (c *App) goOnline() error {
	return c.writeFrame(&model.Frame{
		Type: model.FrameOnline,
		Presence: &model.Presence{
			UserID:    c.me.UserID,
			Email:     c.me.Email,
			PublicKey: c.keys.PublicKey,
		},
	})
}

func (c *App) writeFrame(frame *model.Frame) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// switchConversation resets the visible timeline and invalidates any
// in-flight history poll for the previous peer.
func (c *App) switchConversation(peerIdentity string) {
	c.activeMu.Lock()
	c.peerID = peerIdentity
	c.activeThread = fmt.Sprintf("%s::%s", c.myIdentity(), peerIdentity)
	c.activeMu.Unlock()

	c.timeline.Reset()
	go c.refreshHistory()
}

func (c *App) currentPeer() string {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.peerID
}

func (c *App) myIdentity() string {
	if c.me.UserID != "" {
		return c.me.UserID
	}
	return c.me.Email
}

func (c *App) myIdentities() []string {
	return c.me.Identities()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.currentPeer()))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}
			c.input.SetText("")

			go func(msg string) {
				if err := c.SendMessage(msg); err != nil {
					if errors.Is(err, ErrKeyUnavailable) {
						c.showNotice(fmt.Sprintf("cannot send: %s has no published key; ask them to log in once", c.currentPeer()))
						return
					}
					log.Error("send message failed", zap.Error(err))
				}
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) showNotice(text string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[red]! %s[-]\n", text)
		c.chatbox.ScrollToEnd()
	})
}

// redraw renders the merged timeline into the chatbox.
func (c *App) redraw() {
	entries := c.timeline.Entries()
	c.app.QueueUpdateDraw(func() {
		c.chatbox.Clear()
		for _, e := range entries {
			mark := statusMark(e.Status)
			if e.Mine {
				fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s %s\n", e.Text, mark)
			} else if e.Decrypted {
				fmt.Fprintf(c.chatbox, "[green]%s:[-] %s\n", e.From, e.Text)
			} else {
				fmt.Fprintf(c.chatbox, "[green]%s:[-] [gray]%s[-]\n", e.From, e.Text)
			}
		}
		c.chatbox.ScrollToEnd()
	})
}

func statusMark(s timeline.Status) string {
	switch s {
	case timeline.StatusPending:
		return "[gray](sending)[-]"
	case timeline.StatusQueued:
		return "[gray](queued)[-]"
	case timeline.StatusDelivered:
		return "[gray](delivered)[-]"
	case timeline.StatusFailed:
		return "[red](failed, resend?)[-]"
	default:
		return ""
	}
}
