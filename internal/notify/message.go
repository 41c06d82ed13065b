package notify

import (
	"fmt"
	"strings"
	"time"

	"todoassist/internal/domain"
)

// undatedShown caps the no-deadline items listed in the daily message.
const undatedShown = 3

func priorityMark(priority int) string {
	switch {
	case priority >= 3:
		return "🔥"
	case priority >= 1:
		return "⭐"
	default:
		return "📌"
	}
}

// BuildDailyMessage renders the morning digest for an agenda.
func BuildDailyMessage(a domain.Agenda) string {
	lines := []string{
		"🌅 おはようございます！",
		fmt.Sprintf("📅 %d年%02d月%02d日のタスクです。", a.Day.Year(), int(a.Day.Month()), a.Day.Day()),
	}
	if len(a.Today) > 0 {
		lines = append(lines, "", "📋 今日のタスク:")
		for i, t := range a.Today {
			lines = append(lines, fmt.Sprintf("%d. %s %s", i+1, priorityMark(t.Priority), t.Title))
		}
	} else {
		lines = append(lines, "", "✅ 今日が期限のタスクはありません！")
	}
	if len(a.Undated) > 0 {
		lines = append(lines, "", "💡 期限なしのタスク:")
		for i, t := range a.Undated {
			if i == undatedShown {
				break
			}
			lines = append(lines, fmt.Sprintf("• %s %s", priorityMark(t.Priority), t.Title))
		}
		if rest := len(a.Undated) - undatedShown; rest > 0 {
			lines = append(lines, fmt.Sprintf("…ほか%d件", rest))
		}
	}
	lines = append(lines, "", "💪 今日も一日がんばりましょう！")
	return strings.Join(lines, "\n")
}

// ConnectivityMessage is sent to check that delivery is configured.
func ConnectivityMessage(now time.Time) string {
	return fmt.Sprintf("🧪 テスト通知です\n📅 %s\n\nこの通知が届いていれば設定は正常です。", now.Format("2006年01月02日 15:04:05"))
}
