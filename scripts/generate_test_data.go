package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/flowly/internal/config"
	"github.com/flowly/internal/db"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	demoUsername = "demo"
	demoPassword = "demo123"
)

// 测试数据生成器：在远程表中为演示账号写入一周的任务、重复规则与习惯记录
func main() {
	// 初始化数据库
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置读取失败:", err)
	}
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	if err := db.MigrateRemote(db.DB); err != nil {
		log.Fatal("远程表迁移失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	user, err := createDemoUser()
	if err != nil {
		log.Fatal("创建演示用户失败:", err)
	}

	remote := store.NewGormStore(db.DB)
	ctx := context.Background()
	week := planner.WeekOf(planner.DateOf(time.Now()))

	if err := createDemoRules(ctx, remote, user.UUID); err != nil {
		log.Fatal("创建重复规则失败:", err)
	}
	tasks, err := createDemoTasks(ctx, remote, user.UUID, week)
	if err != nil {
		log.Fatal("创建任务失败:", err)
	}
	habits, err := createDemoHabits(ctx, remote, user.UUID, week)
	if err != nil {
		log.Fatal("创建习惯记录失败:", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("用户: %s (密码: %s)\n", demoUsername, demoPassword)
	fmt.Printf("任务: %d 条, 习惯记录: %d 条\n", tasks, habits)
}

// 创建演示用户
func createDemoUser() (*db.User, error) {
	var user db.User
	if err := db.DB.Where("username = ?", demoUsername).First(&user).Error; err == nil {
		fmt.Println("演示用户已存在，跳过创建")
		return &user, nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user = db.User{Username: demoUsername, Password: string(hashedPassword)}
	if err := db.DB.Create(&user).Error; err != nil {
		return nil, err
	}
	fmt.Println("✅ 演示用户创建完成")
	return &user, nil
}

// 创建重复规则（周一为 0）
func createDemoRules(ctx context.Context, remote store.RemoteStore, userID string) error {
	rules := []store.RuleRow{
		{ID: "demo-meditate", UserID: userID, Text: "Meditar 10 minutos", Days: []int{0, 1, 2, 3, 4, 5, 6}, Priority: string(planner.PrioritySimple)},
		{ID: "demo-gym", UserID: userID, Text: "Academia", Days: []int{0, 2, 4}, Priority: string(planner.PriorityImportant)},
		{ID: "demo-budget", UserID: userID, Text: "Revisar orçamento", Days: []int{6}, Priority: string(planner.PriorityMoney)},
	}
	if err := remote.ReplaceRules(ctx, userID, rules); err != nil {
		return err
	}
	fmt.Println("✅ 重复规则创建完成")
	return nil
}

// 创建本周的任务，已有任务时跳过
func createDemoTasks(ctx context.Context, remote store.RemoteStore, userID string, week []planner.Date) (int, error) {
	count, err := remote.CountTasks(ctx, userID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		fmt.Println("任务已存在，跳过创建")
		return int(count), nil
	}

	samples := []struct {
		day       int
		period    string
		text      string
		priority  planner.Priority
		completed bool
	}{
		{0, "Manhã", "Responder e-mails", planner.PriorityUrgent, true},
		{0, planner.DefaultPeriod, "Comprar pão", planner.PriorityNone, true},
		{1, "Tarde", "Reunião com o time", planner.PriorityImportant, false},
		{2, planner.DefaultPeriod, "Pagar conta de luz", planner.PriorityMoney, false},
		{3, "Noite", "Ler 20 páginas", planner.PrioritySimple, false},
		{4, "Manhã", "Enviar relatório semanal", planner.PriorityUrgent, false},
		{5, planner.DefaultPeriod, "Faxina", planner.PriorityNone, false},
	}

	created := 0
	for _, s := range samples {
		if s.day >= len(week) {
			continue
		}
		_, err := remote.InsertTask(ctx, store.TaskRow{
			UserID:    userID,
			Day:       week[s.day].String(),
			Period:    s.period,
			Text:      s.text,
			Completed: s.completed,
			Color:     string(s.priority),
		})
		if err != nil {
			return created, err
		}
		created++
	}
	fmt.Println("✅ 任务创建完成")
	return created, nil
}

// 为本周已过去的日期写入习惯完成记录
func createDemoHabits(ctx context.Context, remote store.RemoteStore, userID string, week []planner.Date) (int, error) {
	today := planner.DateOf(time.Now()).String()
	var rows []store.HabitRow
	for i, d := range week {
		key := d.String()
		if key >= today {
			break
		}
		rows = append(rows, store.HabitRow{UserID: userID, HabitName: "Meditar 10 minutos", Date: key, Completed: i%2 == 0})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := remote.UpsertHabitHistory(ctx, rows); err != nil {
		return 0, err
	}
	fmt.Println("✅ 习惯记录创建完成")
	return len(rows), nil
}
