// cmd/workspace-cli — Maestro 工作台的交互式终端客户端。
//
// 启动:
//
//	workspace-cli --base-url http://localhost:8000 --thread t1
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/raj-pulapakura/idea-maestro/internal/config"
	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	"github.com/raj-pulapakura/idea-maestro/internal/session"
	"github.com/raj-pulapakura/idea-maestro/internal/workspace"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
	"github.com/raj-pulapakura/idea-maestro/pkg/util"
)

// loadEnvFile 从当前目录向上搜索 .env 并加载, 不覆盖已有环境变量。
func loadEnvFile() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		f, err := os.Open(envPath)
		if err == nil {
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				parts := strings.SplitN(line, "=", 2)
				if len(parts) != 2 {
					continue
				}
				key := strings.TrimSpace(parts[0])
				if _, exists := os.LookupEnv(key); !exists {
					_ = os.Setenv(key, strings.TrimSpace(parts[1]))
				}
			}
			_ = f.Close()
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}

// cli 持有当前会话与正在打开的线程。
type cli struct {
	cfg         *config.Config
	sess        *session.Session
	threadID    string
	watchCancel context.CancelFunc
}

func main() {
	loadEnvFile()

	baseURL := flag.String("base-url", "", "后端地址 (默认取 MAESTRO_API_BASE_URL)")
	thread := flag.String("thread", "", "启动时直接打开的线程 id")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if *baseURL != "" {
		cfg.APIBaseURL = *baseURL
	}

	api := maestro.NewClient(cfg.APIBaseURL, cfg.StreamReadTimeout())
	app := &cli{cfg: cfg, sess: session.New(api)}

	fmt.Printf("maestro workspace — %s (help 查看命令)\n", cfg.APIBaseURL)
	if *thread != "" {
		app.open(ctx, *thread)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("[%s] > ", orDash(app.threadID))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		cmd, rest := splitCommand(line)
		if cmd == "quit" || cmd == "exit" {
			break
		}
		app.dispatch(ctx, cmd, rest)
	}
	app.stopWatch()
	fmt.Println("bye")
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToLower(parts[0])
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return cmd, rest
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (a *cli) dispatch(ctx context.Context, cmd, rest string) {
	switch cmd {
	case "help":
		a.help()
	case "threads":
		a.threads(ctx)
	case "new":
		a.newThread(ctx, rest)
	case "open":
		a.open(ctx, rest)
	case "rename":
		a.updateThread(ctx, rest, "")
	case "archive":
		a.updateThread(ctx, "", "archived")
	case "activate":
		a.updateThread(ctx, "", "active")
	case "send":
		a.send(ctx, rest)
	case "approve":
		a.decide(ctx, maestro.DecisionApprove, rest)
	case "reject":
		a.decide(ctx, maestro.DecisionReject, rest)
	case "changes":
		a.decide(ctx, maestro.DecisionRequestChanges, rest)
	case "pending":
		a.pending()
	case "timeline":
		a.timeline()
	case "runlog":
		a.runlog()
	case "docs":
		a.docs(ctx)
	case "doc":
		a.doc(ctx, rest)
	case "changesets":
		a.changesets(ctx)
	default:
		fmt.Printf("未知命令 %q, help 查看用法\n", cmd)
	}
}

func (a *cli) help() {
	fmt.Print(`命令:
  threads              列出线程
  new [标题]           新建线程并打开
  open <thread_id>     打开线程 (拉快照 + 订阅实时事件)
  rename <标题>        改当前线程标题
  archive              归档当前线程
  activate             恢复当前线程为 active
  send <文本>          发送消息并直播事件流
  approve [备注]       批准待审批变更集
  reject [备注]        驳回待审批变更集
  changes [备注]       要求修改
  pending              查看待审批变更集
  timeline             消息 + 工具时间线
  runlog               run 日志 (新到旧)
  docs                 文档列表
  doc <doc_id>         查看单个文档
  changesets           变更集列表
  quit                 退出
`)
}

func (a *cli) requireThread() bool {
	if a.threadID == "" {
		fmt.Println("请先 open 一个线程")
		return false
	}
	return true
}

func (a *cli) threads(ctx context.Context) {
	if err := a.sess.RefreshThreads(ctx, 50, 0); err != nil {
		fmt.Printf("列线程失败: %v\n", err)
		return
	}
	state := a.sess.State()
	if len(state.Threads) == 0 {
		fmt.Println("(暂无线程)")
		return
	}
	for id, t := range state.Threads {
		preview := ""
		if t.LastMessagePreview != "" {
			preview = " — " + t.LastMessagePreview
		}
		fmt.Printf("  %s  %s [%s]%s\n", id, t.Title, t.Status, preview)
	}
}

func (a *cli) newThread(ctx context.Context, title string) {
	created, err := a.sess.CreateThread(ctx, "", title)
	if err != nil {
		fmt.Printf("建线程失败: %v\n", err)
		return
	}
	fmt.Printf("已创建 %s (%s)\n", created.ID, created.Title)
	a.open(ctx, created.ID)
}

func (a *cli) updateThread(ctx context.Context, title, status string) {
	if !a.requireThread() {
		return
	}
	if title == "" && status == "" {
		fmt.Println("用法: rename <标题>")
		return
	}
	updated, err := a.sess.UpdateThread(ctx, a.threadID, title, status)
	if err != nil {
		fmt.Printf("改线程失败: %v\n", err)
		return
	}
	fmt.Printf("已更新 %s (%s) [%s]\n", updated.ID, updated.Title, updated.Status)
}

func (a *cli) open(ctx context.Context, threadID string) {
	if threadID == "" {
		fmt.Println("用法: open <thread_id>")
		return
	}
	if err := a.sess.LoadThread(ctx, threadID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			fmt.Printf("线程 %s 不存在\n", threadID)
			return
		}
		fmt.Printf("拉快照失败: %v\n", err)
		return
	}
	a.threadID = threadID
	a.startWatch(ctx, threadID)
	fmt.Printf("已打开 %s (%d 条消息)\n", threadID, len(a.sess.State().Messages(threadID)))
}

// startWatch 为当前线程启动 websocket 订阅; 切线程时换订阅。
func (a *cli) startWatch(ctx context.Context, threadID string) {
	a.stopWatch()
	if !a.cfg.WatchEnabled {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	watcher := maestro.NewWatcher(a.cfg.APIBaseURL, threadID)
	watcher.PingInterval = a.cfg.WatchPingInterval()
	sink := a.sess.Sink()
	util.SafeGo(func() {
		if err := watcher.Run(watchCtx, sink); err != nil {
			logger.Warn("watch stopped", logger.FieldThreadID, threadID, logger.FieldError, err)
		}
	})
}

func (a *cli) stopWatch() {
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
}

func (a *cli) send(ctx context.Context, text string) {
	if !a.requireThread() {
		return
	}
	if text == "" {
		fmt.Println("用法: send <文本>")
		return
	}
	if err := a.sess.SendMessage(ctx, a.threadID, text); err != nil {
		if errors.Is(err, apperrors.ErrStreamBusy) {
			fmt.Println("该线程已有进行中的流, 请稍候")
			return
		}
		fmt.Printf("发送失败: %v\n", err)
		return
	}
	a.printTail()
}

func (a *cli) decide(ctx context.Context, decision maestro.Decision, comment string) {
	if !a.requireThread() {
		return
	}
	pa, ok := a.sess.PendingApproval(a.threadID)
	if !ok {
		fmt.Println("没有待审批的变更集")
		return
	}
	if err := a.sess.SubmitApproval(ctx, a.threadID, decision, comment, pa.InterruptID); err != nil {
		fmt.Printf("审批失败: %v\n", err)
		return
	}
	fmt.Printf("已提交 %s (change set %s)\n", decision, pa.ChangeSetID)
	a.printTail()
}

// printTail 打印流结束后的线程尾部状态。
func (a *cli) printTail() {
	state := a.sess.State()
	msgs := state.Messages(a.threadID)
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		fmt.Printf("  %s: %s\n", displayAuthor(last), last.Content)
	}
	if threadErr := state.ThreadError(a.threadID); threadErr != "" {
		fmt.Printf("  run 出错: %s\n", threadErr)
	}
	if pa, ok := a.sess.PendingApproval(a.threadID); ok {
		fmt.Printf("  待审批: %s — approve / reject / changes\n", pa.Summary)
	}
}

func (a *cli) pending() {
	if !a.requireThread() {
		return
	}
	pa, ok := a.sess.PendingApproval(a.threadID)
	if !ok {
		fmt.Println("没有待审批的变更集")
		return
	}
	fmt.Printf("变更集 %s (%s)\n  %s\n", pa.ChangeSetID, pa.InterruptID, pa.Summary)
	for _, docID := range pa.Docs {
		fmt.Printf("  - %s\n", docID)
		if diff, ok := pa.Diffs[docID]; ok {
			fmt.Println(indent(diff, "      "))
		}
	}
}

func (a *cli) timeline() {
	if !a.requireThread() {
		return
	}
	entries := a.sess.Timeline(a.threadID)
	if len(entries) == 0 {
		fmt.Println("(时间线为空)")
		return
	}
	for _, e := range entries {
		switch e.Kind {
		case workspace.TimelineMessage:
			fmt.Printf("  %s  %s: %s\n",
				e.CreatedAt.Format("15:04:05"), displayAuthor(e.Message), util.Truncate(e.Message.Content, 96))
		case workspace.TimelineTool:
			fmt.Printf("  %s  [tool] %s\n", e.CreatedAt.Format("15:04:05"), e.Tool.Label)
		}
	}
}

func (a *cli) runlog() {
	if !a.requireThread() {
		return
	}
	entries := a.sess.RunLog(a.threadID)
	if len(entries) == 0 {
		fmt.Println("(run 日志为空)")
		return
	}
	for _, e := range entries {
		detail := ""
		if e.Description != "" {
			detail = " — " + util.Truncate(e.Description, 72)
		}
		fmt.Printf("  %s  %s%s\n", e.CreatedAt.Format("15:04:05"), e.Title, detail)
	}
}

func (a *cli) docs(ctx context.Context) {
	if !a.requireThread() {
		return
	}
	if err := a.sess.RefreshDocs(ctx, a.threadID); err != nil {
		fmt.Printf("拉文档失败: %v\n", err)
		return
	}
	state := a.sess.State()
	for _, d := range state.Docs {
		if d.ThreadID != a.threadID {
			continue
		}
		fmt.Printf("  %s v%d  %s\n", d.DocID, d.Version, d.Title)
	}
}

func (a *cli) doc(ctx context.Context, docID string) {
	if !a.requireThread() {
		return
	}
	if docID == "" {
		fmt.Println("用法: doc <doc_id>")
		return
	}
	d, err := a.sess.LoadDoc(ctx, a.threadID, docID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			fmt.Printf("文档 %s 不存在\n", docID)
			return
		}
		fmt.Printf("拉文档失败: %v\n", err)
		return
	}
	fmt.Printf("%s (v%d)\n%s\n", d.Title, d.Version, d.Content)
}

func (a *cli) changesets(ctx context.Context) {
	if !a.requireThread() {
		return
	}
	if err := a.sess.RefreshChangeSets(ctx, a.threadID); err != nil {
		fmt.Printf("拉变更集失败: %v\n", err)
		return
	}
	state := a.sess.State()
	for id, cs := range state.ChangeSets {
		if cs.ThreadID != a.threadID {
			continue
		}
		fmt.Printf("  %s [%s] %s\n", id, cs.Status, cs.Summary)
	}
}

func displayAuthor(m workspace.Message) string {
	if m.ByAgent != "" {
		return m.ByAgent
	}
	return m.Role
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
