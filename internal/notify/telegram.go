package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "sheetwatch/pkg/logx"
)

// maxMessageLen is Telegram's text message size limit.
const maxMessageLen = 4096

// TelegramConfig configures the send-only Telegram adapter.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// SendTimeout bounds each outbound API call. 0 means 10s.
	SendTimeout time.Duration
	// RatePerSec paces sends when a batch contains several rows,
	// replacing a fixed inter-message sleep. 0 means 1/s.
	RatePerSec int
}

// Telegram delivers notifications with telebot. The bot never polls for
// updates; it exists purely to send.
type Telegram struct {
	cfg     TelegramConfig
	bot     *tele.Bot
	to      tele.Recipient
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// NewBot calls getMe, so a bad token fails here at startup rather than
	// on the first poll tick.
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &Telegram{
		cfg:     cfg,
		bot:     b,
		to:      tele.ChatID(cfg.ChatID),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	text = truncate(text, maxMessageLen)
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.cfg.ThreadID,
	}
	if _, err := t.bot.Send(t.to, text, opts); err != nil {
		return fmt.Errorf("%w: chat %d: %v", ErrDelivery, t.cfg.ChatID, err)
	}
	t.log.Debug("notification sent", logx.Int64("chat_id", t.cfg.ChatID), logx.Int("len", len(text)))
	return nil
}

// truncate caps s at maxN bytes without ever cutting mid-rune or inside an
// HTML tag: Telegram rejects invalid UTF-8 and unbalanced tags outright, and
// a permanently rejected row would wedge the watch loop on that row forever.
func truncate(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	const ellipsis = "..."
	cut := maxN
	if maxN >= 10 {
		cut = maxN - len(ellipsis)
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	head := s[:cut]
	// An opened-but-unterminated tag at the cut point would leave a
	// dangling "<b" fragment behind. Drop it.
	if i := strings.LastIndexByte(head, '<'); i >= 0 && !strings.Contains(head[i:], ">") {
		head = head[:i]
	}
	if maxN < 10 {
		return head
	}
	return head + ellipsis
}
