package bot

import (
	tele "gopkg.in/telebot.v3"
)

var (
	// Buttons
	btnRequestDues = tele.Btn{Text: "🧾 Request dues invoice", Unique: "request_dues"}
	btnStatus      = tele.Btn{Text: "📊 My status", Unique: "dues_status"}
	btnRecent      = tele.Btn{Text: "📜 Recent outcomes", Unique: "recent_outcomes"}
	btnBackToMain  = tele.Btn{Text: "📋 Main menu", Unique: "back_to_main"}
)

func (bot *Bot) mainMenuKeyboard() *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}

	menu.Inline(
		menu.Row(btnRequestDues),
		menu.Row(btnStatus),
		menu.Row(btnRecent),
		menu.Row(btnBackToMain),
	)
	return menu
}
