package constants

import "time"

// Telegram Bot API limits (UTF-16 code units)
// Лимиты Telegram Bot API (в UTF-16 code units)
const (
	MAX_CAPTION_LEN       = 1024
	MAX_TEXT_LEN          = 4096
	MAX_POLL_QUESTION_LEN = 300
	MAX_MEDIA_GROUP_ITEMS = 10
	MIN_MEDIA_GROUP_ITEMS = 2
)

// Timing defaults
// Значения времени по умолчанию
const (
	DEFAULT_ALBUM_WAIT        = 300 * time.Millisecond
	DEFAULT_ALBUM_MAX_WAIT    = 3 * time.Second
	DEFAULT_MUTE_DURATION     = 2 * time.Hour
	DEFAULT_MAPPING_RETENTION = 48 * time.Hour
	DEFAULT_NEWS_RETENTION    = 7 * 24 * time.Hour
	DEFAULT_RETENTION_CRON    = "0 3 * * *"
	DEFAULT_SEND_TIMEOUT      = 15 * time.Second
	USAGE_HINT_TTL            = 3 * time.Second // подсказка "используйте в ответ" удаляется через 3 с
	TELEGRAM_LOG_FLUSH        = 30 * time.Second
)

// Relay notices for users
// Уведомления пользователю
const (
	MSG_START         = "👋 Теперь отправьте ваше сообщение. \nБот перешлёт его всем админам."
	MSG_ACK           = "✅ Ваше сообщение получено!"
	MSG_BANNED        = "🚫 Вы заблокированы и не можете отправлять сообщения."
	MSG_MUTED         = "🔇 Вы временно замьючены. Попробуйте позже."
	MSG_SEND_FAILED   = "⚠️ Не удалось доставить сообщение. Попробуйте позже."
	MSG_SEND_REJECTED = "⚠️ Сообщение не доставлено: %s"
	MSG_STATUS_FREE   = "✅ У вас нет ограничений. Вы можете отправлять сообщения."
	MSG_STATUS_MUTED  = "🔇 Вы временно замьючены до %s (UTC)."
	MSG_YOU_MUTED     = "🔇 Вы были временно замьючены до %s UTC."
	MSG_YOU_UNMUTED   = "🔊 Вы были размьючены."
	MSG_YOU_BANNED    = "🚫 Вы были заблокированы в %s UTC."
	MSG_YOU_UNBANNED  = "✅ Вы были разблокированы."
)

// Staff group notices
// Сообщения в группе сотрудников
const (
	MSG_STAFF_REPLY_FAILED    = "⚠️ Ответ не доставлен пользователю %d: %s"
	MSG_STAFF_EDIT_FAILED     = "⚠️ Правка не доставлена пользователю %d: %s"
	MSG_STAFF_REPLY_REQUIRED  = "❗ Используйте %s в ответ на сообщение."
	MSG_STAFF_MUTED           = "🔇 Пользователь %d замьючен до %s UTC."
	MSG_STAFF_UNMUTED         = "🔊 Пользователь %d размьючен."
	MSG_STAFF_BANNED          = "🚫 Пользователь %d заблокирован в %s UTC."
	MSG_STAFF_UNBANNED        = "✅ Пользователь %d разблокирован."
	MSG_STAFF_STATUS_BANNED   = "🚫 Пользователь %d заблокирован с %s UTC."
	MSG_STAFF_STATUS_MUTED    = "🔇 Пользователь %d замьючен до %s UTC."
	MSG_STAFF_STATUS_FREE     = "✅ У пользователя %d нет ограничений."
	MSG_STAFF_STATUS_FAILED   = "⚠️ Не удалось получить статус. Попробуйте позже."
	MSG_STAFF_PRO_SENT        = "✅ Сообщение отправлено в PRO-группу"
	MSG_STAFF_PRO_FAILED      = "❌ Ошибка при пересылке: %s"
	MSG_STAFF_PRO_AUDIT       = "📤 Переслано из админской группы в PRO-группу\n↪️ Исходное msg_id: %d\n📨 Новое msg_id: %d\n👤 Отправитель: %s (id %d)"
	MSG_STAFF_ACTION_FAILED   = "⚠️ Не удалось выполнить команду: %s"
	MSG_TOP_THANKS_HEADER     = "🏆 Топ-10 по благодарностям:\n\n"
	MSG_TOP_THANKS_EMPTY      = "Пока никого не благодарили."
	MSG_HELP_PRIVATE          = "📋 Доступные команды:\n\n/start — начать\n/status — мои ограничения\n/help — эта справка\n\nПросто отправьте сообщение, и бот перешлёт его админам."
	MSG_HELP_STAFF            = "📋 Доступные команды (ответом на сообщение):\n\n/mute — замьютить на 2 часа\n/unmute — снять мьют\n/ban — заблокировать\n/unban — разблокировать\n/status — статус пользователя\n/send_to_pro_group — отправить в PRO-группу\n/top10 — топ благодарностей"
)

// Markers appended to relayed content
// Метки в пересылаемом контенте
const (
	EDITED_MARKER       = "✏️ изменено\n"
	EDITED_PART_REMOVED = "✏️ (часть удалена при правке)"
	SIGNATURE_PREFIX    = "\n\n👤 "
	SIGNATURE_ID_FORMAT = " · id %d"
	SIGNATURE_ANONYMOUS = "Пользователь"
	NEWS_SOURCE_SUFFIX  = "\n\nИсточник: @MedPhysProChannel"
	TIME_LAYOUT_STATUS  = "02.01.2006 15:04"
)

// Bot commands
// Команды бота
const (
	CMD_START       = "start"
	CMD_HELP        = "help"
	CMD_STATUS      = "status"
	CMD_MUTE        = "mute"
	CMD_UNMUTE      = "unmute"
	CMD_BAN         = "ban"
	CMD_UNBAN       = "unban"
	CMD_SEND_TO_PRO = "send_to_pro_group"
	CMD_TOP10       = "top10"
)
