package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/folkengine/goname"
	"github.com/spf13/cobra"
	"github.com/streamcart/livechat/connector"
	"github.com/streamcart/livechat/types"
)

// A very simple interactive chat client built on the connector, mostly useful for
// poking at a running server.

var (
	serverUrl   string
	streamId    string
	userId      string
	displayName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "livechat-cli",
		Short:        "interactive livechat client",
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().StringVar(&serverUrl, "url", "ws://localhost:8000/chat", "websocket url of the chat server")
	rootCmd.Flags().StringVar(&streamId, "stream", "", "stream to join")
	rootCmd.Flags().StringVar(&userId, "user", "", "user id")
	rootCmd.Flags().StringVar(&displayName, "name", "", "display name (random if empty)")
	_ = rootCmd.MarkFlagRequired("stream")
	_ = rootCmd.MarkFlagRequired("user")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if displayName == "" {
		displayName = goname.New(goname.FantasyMap).FirstLast()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := connector.New(serverUrl, connector.Options{})
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Join(streamId, types.Identity{UserId: userId, DisplayName: displayName}); err != nil {
		return err
	}

	go printEvents(conn.Events())

	fmt.Printf("joined %s as %s, type to chat, ctrl-d to quit\n", streamId, displayName)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := conn.Send(line); err != nil {
			return err
		}
	}
	return conn.Leave()
}

func printEvents(events <-chan connector.Event) {
	for ev := range events {
		switch ev.Name {
		case types.EventHistory:
			data := types.HistoryData{}
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			for _, msg := range data.Messages {
				fmt.Printf("%s [%s] %s\n", msg.Timestamp.Format("15:04:05"), msg.DisplayName, msg.Body)
			}
		case types.EventNewMessage:
			data := types.NewMessageData{}
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			msg := data.Message
			fmt.Printf("%s [%s] %s\n", msg.Timestamp.Format("15:04:05"), msg.DisplayName, msg.Body)
		case types.EventUserJoined, types.EventUserLeft:
			data := types.PresenceData{}
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			verb := "joined"
			if ev.Name == types.EventUserLeft {
				verb = "left"
			}
			fmt.Printf("* %s %s\n", data.DisplayName, verb)
		case types.EventError:
			data := types.ErrorData{}
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			fmt.Printf("! %s\n", data.Message)
		}
	}
}
