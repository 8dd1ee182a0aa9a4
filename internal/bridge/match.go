package bridge

// MatchKind classifies the window-matching outcome for a click target.
type MatchKind int

const (
	// MatchNone means no attached client shows the target URL.
	MatchNone MatchKind = iota
	// MatchFocused means a focused client already shows the target; the
	// click is a no-op.
	MatchFocused
	// MatchExisting means a background client shows the target and should
	// be focused instead of opening a new window.
	MatchExisting
)

// Match applies the window-matching policy over a client snapshot: prefer
// an already-focused client on the target URL, then any client on the
// target URL, otherwise none.
func Match(clients []ClientInfo, targetURL string) (ClientInfo, MatchKind) {
	var existing *ClientInfo
	for i := range clients {
		if clients[i].URL != targetURL {
			continue
		}
		if clients[i].Focused {
			return clients[i], MatchFocused
		}
		if existing == nil {
			existing = &clients[i]
		}
	}
	if existing != nil {
		return *existing, MatchExisting
	}
	return ClientInfo{}, MatchNone
}
