package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/flowly/internal/db"
	"github.com/flowly/internal/locale"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Update 是聊天平台推送到 webhook 的消息
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message 是一条聊天消息
type Message struct {
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// Reply 直接作为 webhook 响应返回，平台会把它当作 sendMessage 调用执行
type Reply struct {
	Method string `json:"method"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// VerifyFunc 把绑定码解析为用户身份
type VerifyFunc func(code string) (userID string, err error)

// Bot 处理 /tarefas、/adicionar、/completar、/progresso 等命令，直接读写远程任务行
type Bot struct {
	remote   store.RemoteStore
	db       *gorm.DB
	verify   VerifyFunc
	now      func() time.Time
	loc      *time.Location
	language string
}

// New 构造 Bot
func New(remote store.RemoteStore, gdb *gorm.DB, verify VerifyFunc, loc *time.Location) *Bot {
	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		remote:   remote,
		db:       gdb,
		verify:   verify,
		now:      time.Now,
		loc:      loc,
		language: locale.LanguagePortuguese,
	}
}

func (b *Bot) reply(chatID int64, text string) Reply {
	return Reply{Method: "sendMessage", ChatID: chatID, Text: text}
}

// Handle 执行一条命令并返回回复。没有消息的更新返回 nil。
func (b *Bot) Handle(ctx context.Context, update Update) (*Reply, error) {
	if update.Message == nil || update.Message.Chat.ID == 0 {
		return nil, nil
	}
	chatID := update.Message.Chat.ID
	command, arg := parseCommand(update.Message.Text)

	if command == "/start" || command == "/vincular" {
		r, err := b.link(chatID, arg)
		return &r, err
	}

	userID, err := b.userFor(chatID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		r := b.reply(chatID, "Esta conversa ainda não está vinculada. Envie /vincular <código> com o código gerado no Flowly.")
		return &r, nil
	}

	today := planner.DateOf(b.now().In(b.loc))
	var r Reply
	switch command {
	case "/tarefas":
		r, err = b.listTasks(ctx, chatID, userID, today)
	case "/adicionar":
		r, err = b.addTask(ctx, chatID, userID, today, arg)
	case "/completar":
		r, err = b.completeTask(ctx, chatID, userID, today, arg)
	case "/progresso":
		r, err = b.progress(ctx, chatID, userID, today)
	default:
		r = b.reply(chatID, helpText)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const helpText = "Comandos disponíveis:\n" +
	"/tarefas - lista as tarefas de hoje\n" +
	"/adicionar <texto> - adiciona uma tarefa para hoje\n" +
	"/completar <n> - marca a tarefa n como concluída\n" +
	"/progresso - mostra o progresso do dia"

func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	command, arg, _ := strings.Cut(text, " ")
	command = strings.ToLower(command)
	// "/tarefas@FlowlyBot" 形式的群组命令
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return command, strings.TrimSpace(arg)
}

func (b *Bot) link(chatID int64, code string) (Reply, error) {
	if code == "" || b.verify == nil {
		return b.reply(chatID, "Olá! Envie /vincular <código> com o código gerado no Flowly para conectar esta conversa."), nil
	}
	userID, err := b.verify(code)
	if err != nil || userID == "" {
		return b.reply(chatID, "Código inválido ou expirado."), nil
	}
	link := db.BotLink{ChatID: chatID, UserID: userID}
	if err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(&link).Error; err != nil {
		return Reply{}, fmt.Errorf("link chat: %w", err)
	}
	log.Printf("[bot] linked chat %d to %s", chatID, userID)
	return b.reply(chatID, "Conversa vinculada! Envie /tarefas para ver as tarefas de hoje."), nil
}

func (b *Bot) userFor(chatID int64) (string, error) {
	var link db.BotLink
	if err := b.db.Where("chat_id = ?", chatID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("find chat link: %w", err)
	}
	return link.UserID, nil
}

// todayRows 返回当天的任务行，顺序与 /tarefas 的编号一致
func (b *Bot) todayRows(ctx context.Context, userID string, today planner.Date) ([]store.TaskRow, error) {
	rows, err := b.remote.ListTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	key := today.String()
	out := rows[:0:0]
	for _, row := range rows {
		if row.Day == key && strings.TrimSpace(row.Text) != "" {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *Bot) header(today planner.Date) string {
	return fmt.Sprintf("📅 %s (%s)", locale.WeekdayName(b.language, today.Weekday()), today.Format("02/01"))
}

func (b *Bot) listTasks(ctx context.Context, chatID int64, userID string, today planner.Date) (Reply, error) {
	rows, err := b.todayRows(ctx, userID, today)
	if err != nil {
		return Reply{}, err
	}
	var sb strings.Builder
	sb.WriteString(b.header(today))
	sb.WriteString("\n\n")
	if len(rows) == 0 {
		sb.WriteString("Nenhuma tarefa para hoje.")
		return b.reply(chatID, sb.String()), nil
	}
	for i, row := range rows {
		mark := "⬜"
		if row.Completed {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, mark, row.Text)
	}
	return b.reply(chatID, strings.TrimRight(sb.String(), "\n")), nil
}

func (b *Bot) addTask(ctx context.Context, chatID int64, userID string, today planner.Date, text string) (Reply, error) {
	if text == "" {
		return b.reply(chatID, "Uso: /adicionar <texto>"), nil
	}
	_, err := b.remote.InsertTask(ctx, store.TaskRow{
		UserID: userID,
		Day:    today.String(),
		Period: planner.DefaultPeriod,
		Text:   text,
		Color:  string(planner.PriorityNone),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("add task: %w", err)
	}
	return b.reply(chatID, fmt.Sprintf("Tarefa adicionada: %s", text)), nil
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, userID string, today planner.Date, arg string) (Reply, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return b.reply(chatID, "Uso: /completar <número da tarefa>"), nil
	}
	rows, err := b.todayRows(ctx, userID, today)
	if err != nil {
		return Reply{}, err
	}
	if n > len(rows) {
		return b.reply(chatID, fmt.Sprintf("Tarefa %d não encontrada. Envie /tarefas para ver a lista.", n)), nil
	}
	row := rows[n-1]
	row.Completed = true
	if err := b.remote.UpdateTask(ctx, row); err != nil {
		return Reply{}, fmt.Errorf("complete task: %w", err)
	}
	return b.reply(chatID, fmt.Sprintf("✅ Concluída: %s", row.Text)), nil
}

func (b *Bot) progress(ctx context.Context, chatID int64, userID string, today planner.Date) (Reply, error) {
	rows, err := b.todayRows(ctx, userID, today)
	if err != nil {
		return Reply{}, err
	}
	items := make([]planner.ViewItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, planner.ViewItem{Text: row.Text, Completed: row.Completed})
	}
	p := planner.ProgressOf(items)
	return b.reply(chatID, fmt.Sprintf("%s\n\nProgresso: %d/%d (%d%%)", b.header(today), p.Completed, p.Total, p.Percentage)), nil
}
