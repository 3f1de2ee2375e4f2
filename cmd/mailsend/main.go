// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

// mailsend is a small demo command that delivers a message read from
// STDIN to an SMTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	smtpclient "github.com/jvosberg/go-smtpclient"
	"github.com/jvosberg/go-smtpclient/log"
)

func main() {
	var (
		host    = flag.String("host", "localhost", "SMTP server hostname")
		port    = flag.Int("port", smtpclient.DefaultPortTLS, "SMTP server port")
		from    = flag.String("from", "", "envelope sender address")
		to      = flag.String("to", "", "comma separated envelope recipient addresses")
		user    = flag.String("user", "", "SMTP AUTH username")
		pass    = flag.String("pass", "", "SMTP AUTH password")
		auth    = flag.String("auth", "auto", "SMTP AUTH mechanism (auto, plain, login, cram-md5, scram-sha-256, ...)")
		noTLS   = flag.Bool("no-tls", false, "disable STARTTLS negotiation")
		debug   = flag.Bool("debug", false, "log the client/server dialogue")
		timeout = flag.Duration("timeout", time.Second*30, "per-operation inactivity timeout")
		version = flag.Bool("version", false, "print the client version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("mailsend (go-smtpclient %s)\n", smtpclient.VERSION)
		os.Exit(0)
	}

	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "both -from and -to are required")
		os.Exit(2)
	}

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Printf("failed to read message from STDIN: %s\n", err)
		os.Exit(1)
	}

	opts := []smtpclient.Option{
		smtpclient.WithPort(*port),
		smtpclient.WithTimeout(*timeout),
		smtpclient.WithLogger(log.New(os.Stderr, log.LevelDebug)),
	}
	if *noTLS {
		opts = append(opts, smtpclient.WithTLSPolicy(smtpclient.NoTLS))
	}
	if *debug {
		opts = append(opts, smtpclient.WithDebugLog())
	}
	if *user != "" {
		var authType smtpclient.AuthType
		if err := authType.UnmarshalString(*auth); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -auth value: %s\n", err)
			os.Exit(2)
		}
		opts = append(opts,
			smtpclient.WithAuth(authType),
			smtpclient.WithUsername(*user),
			smtpclient.WithPassword(*pass),
		)
	}

	client, err := smtpclient.New(*host, opts...)
	if err != nil {
		fmt.Printf("failed to create new client: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		fmt.Printf("failed to connect: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			fmt.Printf("failed to close connection: %s\n", err)
		}
	}()

	rcpts := strings.Split(*to, ",")
	for i := range rcpts {
		rcpts[i] = strings.TrimSpace(rcpts[i])
	}
	result, err := client.Send(ctx, smtpclient.NewEnvelope(*from, rcpts, content))
	if err != nil {
		fmt.Printf("failed to send message: %s\n", err)
		os.Exit(1)
	}
	for rcpt, reply := range result.Rejected {
		fmt.Printf("recipient %s was rejected: %s\n", rcpt, reply.String())
	}
	fmt.Printf("message accepted: %s\n", result.Reply.String())
}
