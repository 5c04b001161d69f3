package telegram_api

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

// Области видимости команд в меню Telegram.
const (
	ScopeAllPrivateChats = "all_private_chats"
	ScopeAllGroupChats   = "all_group_chats"
)

// BotCommand: пункт меню команд.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// SetCommands публикует меню команд для указанной области.
func (bc *BotClient) SetCommands(scope string, commands []BotCommand) error {
	rawCommands, err := json.Marshal(commands)
	if err != nil {
		return err
	}
	rawScope, err := json.Marshal(map[string]string{"type": scope})
	if err != nil {
		return err
	}
	params := tgbotapi.Params{
		"commands": string(rawCommands),
		"scope":    string(rawScope),
	}
	if _, err := bc.MakeRequest("setMyCommands", params); err != nil {
		return fmt.Errorf("setMyCommands (%s): %w", scope, err)
	}
	return nil
}
