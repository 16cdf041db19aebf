package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"funding-hedge-bot/internal/alerts"
	"funding-hedge-bot/internal/funding"
	"funding-hedge-bot/internal/hedge"
	"funding-hedge-bot/internal/venue"
	"funding-hedge-bot/internal/venue/hyperliquid"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
	Result       string    `json:"result,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.Enabled {
		return
	}
	if len(a.cfg.Telegram.AllowedUserIDs) == 0 {
		a.log.Info("telegram operator disabled: no allowed user ids")
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.AllowedUserIDs))
	for _, id := range a.cfg.Telegram.AllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if _, ok := allowedUsers[msg.From.ID]; !ok {
		return
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause":
		before := a.isPaused()
		after := a.setPaused(true)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "pause",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		if !before {
			return "trading paused", nil
		}
		return "trading already paused", nil
	case "resume":
		before := a.isPaused()
		after := a.setPaused(false)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "resume",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		if before {
			return "trading resumed", nil
		}
		return "trading already active", nil
	case "evaluate":
		eval, err := a.EvaluateFunding(ctx)
		if err != nil {
			return "", err
		}
		return formatEvaluation(eval), nil
	case "open":
		return a.handleOpenCommand(ctx, args, meta)
	case "close":
		return a.handleCloseCommand(ctx, meta)
	case "positions":
		return a.formatPositions(ctx), nil
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handleOpenCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if a.isPaused() {
		return "trading is paused; /resume first", nil
	}
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /open long|short (direction of the %s leg)", a.venueA.Name())
	}
	direction := venue.Direction(strings.ToLower(args[0]))
	if !direction.Valid() {
		return "", fmt.Errorf("invalid direction %q: use long or short", args[0])
	}
	res, err := a.OpenHedge(ctx, direction)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "open",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Result:   string(res.Outcome),
	})
	if err != nil {
		return "", err
	}
	lines := []string{fmt.Sprintf("hedge confirmed: %s", res.Symbol)}
	for _, name := range sortedVenues(res.Legs) {
		leg := res.Legs[name]
		lines = append(lines, fmt.Sprintf("  %s %s %.6f @ %.4f", leg.Venue, leg.Direction, leg.Size, leg.EntryPrice))
	}
	return strings.Join(lines, "\n"), nil
}

func (a *App) handleCloseCommand(ctx context.Context, meta operatorMeta) (string, error) {
	res, err := a.CloseHedge(ctx)
	result := "closed"
	if !res.Closed {
		result = "partial"
	}
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "close",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Result:   result,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("hedge closed: %s is flat on both venues", res.Symbol), nil
}

func (a *App) operatorStatus(ctx context.Context) string {
	if a.cfg == nil {
		return "status unavailable"
	}
	symbol := a.cfg.Trading.Symbol
	lines := []string{
		fmt.Sprintf("symbol: %s", symbol),
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("auto_open: %t", a.cfg.Trading.AutoOpen),
	}
	legs := a.positions.Legs(symbol)
	if len(legs) == 0 {
		lines = append(lines, "legs: none")
	} else {
		for _, name := range sortedVenues(legs) {
			leg := legs[name]
			lines = append(lines, fmt.Sprintf("leg %s: %s %.6f @ %.4f %.1fx",
				leg.Venue, leg.Direction, leg.Size, leg.EntryPrice, leg.Leverage))
		}
	}
	if a.feed != nil {
		if mid, err := a.feed.Mid(ctx, hyperliquid.Coin(symbol)); err == nil {
			lines = append(lines, fmt.Sprintf("mid: %.4f", mid))
		}
	}
	return strings.Join(lines, "\n")
}

// formatPositions renders the live position on each venue with a drift note
// when the recorded leg disagrees with what the venue reports.
func (a *App) formatPositions(ctx context.Context) string {
	symbol := a.cfg.Trading.Symbol
	positions := a.QueryPositions(ctx)
	lines := make([]string, 0, len(positions))
	for _, name := range sortedVenues(positions) {
		vp := positions[name]
		var line string
		switch {
		case vp.Error != "":
			line = fmt.Sprintf("%s: query failed: %s", name, vp.Error)
		case vp.Live != nil:
			line = fmt.Sprintf("%s: %s %.6f %s @ %.4f",
				name, vp.Live.Direction, vp.Live.Size, symbol, vp.Live.EntryPrice)
		default:
			line = fmt.Sprintf("%s: flat", name)
		}
		lines = append(lines, line+positionDriftNote(vp))
	}
	return strings.Join(lines, "\n")
}

func positionDriftNote(vp VenuePosition) string {
	switch {
	case vp.Known == nil:
		if vp.Live != nil {
			return " (no recorded leg)"
		}
		return ""
	case vp.Error != "":
		return fmt.Sprintf(" (recorded %s %.6f @ %.4f)",
			vp.Known.Direction, vp.Known.Size, vp.Known.EntryPrice)
	case vp.Live == nil:
		return fmt.Sprintf(" (recorded %s %.6f no longer live)",
			vp.Known.Direction, vp.Known.Size)
	case vp.Known.Direction != vp.Live.Direction ||
		math.Abs(vp.Known.Size-vp.Live.Size) >= hedge.FlatTolerance:
		return fmt.Sprintf(" (recorded %s %.6f)", vp.Known.Direction, vp.Known.Size)
	}
	return ""
}

func formatEvaluation(eval funding.Evaluation) string {
	lines := []string{
		fmt.Sprintf("funding %s: %s", eval.Symbol, eval.Outcome),
		fmt.Sprintf("rates: %.6f%% vs %.6f%% (diff %.6f%%, threshold %.6f%%)",
			eval.RateA.RatePercent, eval.RateB.RatePercent, eval.DiffPercent, eval.ThresholdPercent),
	}
	if eval.Recommendation != nil {
		lines = append(lines, fmt.Sprintf("recommend: short %s, long %s",
			eval.Recommendation.ShortVenue, eval.Recommendation.LongVenue))
	} else {
		lines = append(lines, fmt.Sprintf("shortfall: %.6f%%", eval.Shortfall))
	}
	return strings.Join(lines, "\n")
}

func sortedVenues[T any](byVenue map[string]T) []string {
	names := make([]string, 0, len(byVenue))
	for name := range byVenue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current bot status",
		"/positions - live positions on both venues",
		"/evaluate - compare funding rates now",
		"/open long|short - open a hedge (direction of the binance leg)",
		"/close - flatten the hedge on both venues",
		"/pause - pause auto-open",
		"/resume - resume auto-open",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
