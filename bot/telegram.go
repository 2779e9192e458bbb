package bot

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gatekeeper/execution"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Ghost alerts & engine stats
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   👻 Ghost order alerts
//   📈 Order and prediction statistics (/stats)
//   🏓 Connectivity check (/ping)
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatsProvider provides engine statistics
type StatsProvider interface {
	TrackerStats() execution.TrackerStats
	ValidationStats() types.ValidationStats
}

// sender is the part of the Telegram API the bot uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	out     sender
	chatID  int64
	running bool
	stopCh  chan struct{}

	statsProvider StatsProvider
}

// NewTelegramBot creates a new Telegram bot
func NewTelegramBot(token string, chatID int64, statsProvider StatsProvider) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:           api,
		out:           api,
		chatID:        chatID,
		stopCh:        make(chan struct{}),
		statsProvider: statsProvider,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return bot, nil
}

// Start begins listening for commands
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running || b.api == nil {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyGhosts sends one alert covering every newly flagged ghost order
func (b *TelegramBot) NotifyGhosts(recs []types.OrderRecord, now time.Time) {
	if len(recs) == 0 {
		return
	}
	b.sendMarkdown(formatGhosts(recs, now))
}

// NotifyStartup announces the engine is running
func (b *TelegramBot) NotifyStartup(recoveredOrders, recoveredPredictions int) {
	b.sendMarkdown(fmt.Sprintf(`🚀 *GATEKEEPER STARTED*
━━━━━━━━━━━━━━━━━━━━
📥 Orders recovered: *%d*
🧠 Predictions recovered: *%d*`, recoveredOrders, recoveredPredictions))
}

func formatGhosts(recs []types.OrderRecord, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "👻 *GHOST ORDERS: %d*\n━━━━━━━━━━━━━━━━━━━━\n", len(recs))
	for _, r := range recs {
		fmt.Fprintf(&sb, "`%s`\n%s %s on *%s*: %s @ %s, unconfirmed for %s\n",
			r.ID, r.Side, r.Symbol, exchangeLabel(r.Exchange),
			r.Quantity.String(), r.Price.String(),
			now.Sub(r.SubmittedAt).Truncate(time.Second))
	}
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━\nVerify positions on the venue.")
	return sb.String()
}

func exchangeLabel(exchange string) string {
	if exchange == "" {
		return "any venue"
	}
	return exchange
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message.Command())
		}
	}
}

func (b *TelegramBot) handleCommand(cmd string) {
	switch strings.ToLower(cmd) {
	case "start", "help":
		b.cmdHelp()
	case "stats":
		b.cmdStats()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	b.sendMarkdown(`🤖 *GATEKEEPER COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📈 /stats - Order and prediction statistics
🏓 /ping - Test connection`)
}

func (b *TelegramBot) cmdStats() {
	if b.statsProvider == nil {
		b.send("❌ Stats not available")
		return
	}
	b.sendMarkdown(formatStats(b.statsProvider.TrackerStats(), b.statsProvider.ValidationStats()))
}

func formatStats(ts execution.TrackerStats, vs types.ValidationStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `📈 *ENGINE STATS*
━━━━━━━━━━━━━━━━━━━━

*Orders*
📨 Requests: *%d*
✅ Approved: *%d* | 🚫 Rejected: *%d*
📦 Confirmed: *%d*
👻 Ghosts: *%d*
⚠️ Bad confirmations: *%d*

*Predictions*
🧠 Recorded: *%d* | Validated: *%d*
🎯 Accuracy: *%.1f%%* (24h %.1f%%, 7d %.1f%%)
⚖️ Profit factor: *%.2f*
`,
		ts.TotalRequests, ts.Approved, ts.Rejected, ts.ConfirmedFills, ts.GhostOrders, ts.ValidationFailures,
		vs.TotalPredictions, vs.ValidatedPredictions,
		vs.Accuracy*100, vs.Last24h.Accuracy*100, vs.Last7d.Accuracy*100,
		vs.ProfitFactor,
	)

	if len(vs.ByRegime) > 0 {
		regimes := make([]string, 0, len(vs.ByRegime))
		for r := range vs.ByRegime {
			regimes = append(regimes, r)
		}
		sort.Strings(regimes)
		sb.WriteString("\n*By regime*\n")
		for _, r := range regimes {
			bucket := vs.ByRegime[r]
			name := r
			if name == "" {
				name = "untagged"
			}
			fmt.Fprintf(&sb, "├ %s: %.1f%% (%d)\n", name, bucket.Accuracy*100, bucket.Total)
		}
	}
	return sb.String()
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.out.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.out.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
