package logger

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const alertPrefix = "[ALERT] "

// Message — уведомление пользователю.
type Message struct {
	Text       string
	ButtonText string
	ButtonURL  string
	// QRPayload кодируется в QR и уходит фотографией с Text в подписи.
	QRPayload string
}

// Sender — часть tgbotapi.BotAPI, которой пользуется Notifier.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Mailer отправляет алерты операторам на почту.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     []string
}

func NewMailer(host string, port int, username, password, from string, to []string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

func (m *Mailer) Send(subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}

// Notifier доставляет сообщения пользователям и операторам через Telegram.
type Notifier struct {
	bot      Sender
	adminIDs []int64
	mailer   *Mailer
	log      *zap.Logger
}

func NewNotifier(bot Sender, adminIDs []int64, mailer *Mailer, log *zap.Logger) *Notifier {
	return &Notifier{bot: bot, adminIDs: adminIDs, mailer: mailer, log: log}
}

// SendUser отправляет сообщение пользователю.
func (n *Notifier) SendUser(ctx context.Context, chatID int64, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var markup interface{}
	if m.ButtonURL != "" {
		markup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(m.ButtonText, m.ButtonURL)),
		)
	}

	if m.QRPayload != "" {
		png, err := qrcode.Encode(m.QRPayload, qrcode.Medium, 256)
		if err != nil {
			n.log.Warn("qr encode failed", zap.Error(err))
		} else {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "subscription.png", Bytes: png})
			photo.Caption = m.Text
			photo.ReplyMarkup = markup
			_, err = n.bot.Send(photo)
			return err
		}
	}

	msg := tgbotapi.NewMessage(chatID, m.Text)
	msg.ReplyMarkup = markup
	_, err := n.bot.Send(msg)
	return err
}

// SendOperators рассылает алерт всем администраторам и, если настроено, на почту.
func (n *Notifier) SendOperators(_ context.Context, text string) {
	for _, id := range n.adminIDs {
		if _, err := n.bot.Send(tgbotapi.NewMessage(id, alertPrefix+text)); err != nil {
			n.log.Error("operator notify failed", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
	if n.mailer != nil {
		if err := n.mailer.Send("SkynetVPN alert", text); err != nil {
			n.log.Error("operator mail failed", zap.Error(err))
		}
	}
}

var (
	defaultNotifier *Notifier
	once            sync.Once
)

// InitNotifier регистрирует уведомитель для NotifyAdmin и NotifyOnPanic.
func InitNotifier(n *Notifier) {
	once.Do(func() {
		defaultNotifier = n
	})
}

// NotifyAdmin отправляет критическое уведомление админам
func NotifyAdmin(msg string) {
	if defaultNotifier == nil {
		return
	}
	defaultNotifier.SendOperators(context.Background(), msg)
}

// NotifyOnPanic ловит панику, логирует и уведомляет
func NotifyOnPanic(where string) {
	if r := recover(); r != nil {
		log.Error("panic recovered", zap.String("where", where), zap.Any("panic", r))
		NotifyAdmin("Panic in " + where + ": " + toString(r))
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}
