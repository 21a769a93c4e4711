package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/amsuru18/FolkTrade/internal/client"
)

// cli 是一个最小的终端客户端，用于调试 API：
// 登录后把身份与令牌落盘，后续命令自动带上 Bearer 头。
//
// 用法:
//
//	cli -api http://localhost:5000 login -email a@b.com -password secret
//	cli products
//	cli my
//	cli whoami
//	cli logout
func main() {
	apiBase := flag.String("api", "http://localhost:5000", "API 服务地址")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: cli [-api URL] <login|products|my|whoami|logout>")
		os.Exit(2)
	}

	session, err := client.NewManager(sessionPath())
	if err != nil {
		fatalf("load session: %v", err)
	}

	app := &cliApp{
		api:     *apiBase,
		session: session,
		http:    &http.Client{Timeout: 15 * time.Second},
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "login":
		err = app.login(args)
	case "products":
		err = app.products("/api/products", false)
	case "my":
		err = app.products("/api/products/my", true)
	case "whoami":
		err = app.whoami()
	case "logout":
		err = app.logout()
	default:
		fatalf("unknown command %q", cmd)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

type cliApp struct {
	api     string
	session *client.Manager
	http    *http.Client
}

func (a *cliApp) login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "登录邮箱")
	password := fs.String("password", "", "登录密码")
	fs.Parse(args)
	if *email == "" || *password == "" {
		return fmt.Errorf("login requires -email and -password")
	}

	body, _ := json.Marshal(map[string]string{"email": *email, "password": *password})
	resp, err := a.http.Post(a.api+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID       string `json:"id"`
			FullName string `json:"fullName"`
			Email    string `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	id := client.Identity{ID: out.User.ID, FullName: out.User.FullName, Email: out.User.Email}
	if err := a.session.Login(id, out.Token); err != nil {
		return err
	}
	if !a.session.Authenticated() {
		fmt.Printf("已登录为 %s，但令牌格式异常已被丢弃，请重新登录\n", id.Email)
		return nil
	}
	fmt.Printf("已登录为 %s\n", id.Email)
	return nil
}

func (a *cliApp) products(path string, needAuth bool) error {
	req, err := http.NewRequest(http.MethodGet, a.api+path, nil)
	if err != nil {
		return err
	}
	if needAuth {
		if !a.session.Authenticated() {
			return fmt.Errorf("not logged in, run: cli login")
		}
		req.Header.Set("Authorization", "Bearer "+a.session.Token())
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("list request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var items []struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Price    float64 `json:"price"`
		Category string  `json:"category"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return fmt.Errorf("decode products: %w", err)
	}
	for _, p := range items {
		fmt.Printf("%s\t%-12s\t%.2f\t%s\n", p.ID, p.Category, p.Price, p.Title)
	}
	fmt.Printf("共 %d 件商品\n", len(items))
	return nil
}

func (a *cliApp) whoami() error {
	id := a.session.Identity()
	if id == nil {
		fmt.Println("未登录")
		return nil
	}
	status := "无有效令牌"
	if a.session.Authenticated() {
		status = "已登录"
	}
	fmt.Printf("%s <%s> (%s)\n", id.FullName, id.Email, status)
	return nil
}

func (a *cliApp) logout() error {
	if err := a.session.Logout(); err != nil {
		return err
	}
	fmt.Println("已退出登录")
	return nil
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return fmt.Errorf("api %d: %s", resp.StatusCode, body.Message)
	}
	return fmt.Errorf("api %d", resp.StatusCode)
}

func sessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "folktrade", "session.json")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
