package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
)

const defaultRedirectURI = "http://127.0.0.1/callback"

// loginCmd runs the passwordless flow end to end: request a code for the
// email address, read the code the user received, and exchange it.
func loginCmd(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	email := flags.String("email", "", "account email address")
	redirectURI := flags.String("redirect-uri", defaultRedirectURI, "redirect URI sent with the code request")
	_ = flags.Parse(args)

	if *email == "" {
		fatal("login", fmt.Errorf("--email is required"))
	}

	cfg := loadConfig()
	sess := openSession(cfg)
	cloud := newCloud(cfg, sess)

	if err := sess.BeginLogin(ctx, cloud, *email, *redirectURI); err != nil {
		fatal("request login code", err)
	}

	fmt.Printf("A login code has been sent to %s.\n", *email)
	fmt.Print("Enter the code: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		fatal("read code", err)
	}
	code := strings.TrimSpace(line)

	if err := sess.CompleteLogin(ctx, cloud, code); err != nil {
		fatal("complete login", err)
	}

	identity := sess.Identity()
	fmt.Printf("Logged in as %s (%s).\n", identity.Name, identity.Email)
}

func logoutCmd(ctx context.Context) {
	cfg := loadConfig()
	sess := openSession(cfg)
	if err := sess.Logout(ctx); err != nil {
		fatal("logout", err)
	}
	fmt.Println("Logged out.")
}

func whoamiCmd() {
	cfg := loadConfig()
	sess := openSession(cfg)
	if !sess.LoggedIn() {
		fmt.Println("not logged in")
		os.Exit(1)
	}
	identity := sess.Identity()
	fmt.Printf("id: %d\n", identity.ID)
	fmt.Printf("email: %s\n", identity.Email)
	fmt.Printf("name: %s\n", identity.Name)
}
