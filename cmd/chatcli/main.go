package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/aichat/client-go/app/bootstrap"
	"github.com/aichat/client-go/internal/di"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/services"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	err = di.Invoke(func(
		conversations *services.ConversationService,
		orchestrator *services.StreamOrchestrator,
		attachments *services.AttachmentService,
	) error {
		return runREPL(conversations, orchestrator, attachments)
	})
	if err != nil {
		log.Fatalf("chat loop failed: %v", err)
	}
}

func runREPL(
	conversations *services.ConversationService,
	orchestrator *services.StreamOrchestrator,
	attachments *services.AttachmentService,
) error {
	ctx := context.Background()

	conv, err := conversations.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("New conversation %s. Type a message, or /help for commands.\n", conv.ID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pendingAttachments []string

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil

		case line == "/help":
			fmt.Println("/new        start a new conversation")
			fmt.Println("/list       list conversations")
			fmt.Println("/stop       cancel the in-flight reply")
			fmt.Println("/attach <p> attach a local file to the next message")
			fmt.Println("/gc         sweep orphan attachments")
			fmt.Println("/quit       exit")

		case line == "/new":
			conv, err = conversations.Create(ctx)
			if err != nil {
				return err
			}
			pendingAttachments = nil
			fmt.Printf("New conversation %s\n", conv.ID)

		case line == "/list":
			list, err := conversations.List(ctx, false)
			if err != nil {
				return err
			}
			for _, c := range list {
				title := "(untitled)"
				if c.Title != nil {
					title = *c.Title
				}
				fmt.Printf("%s  %s  %s\n", c.ID, c.UpdatedAt.Format("2006-01-02 15:04"), title)
			}

		case line == "/stop":
			if orchestrator.Stop(conv.ID) {
				fmt.Println("Stream cancelled")
			} else {
				fmt.Println("Nothing in flight")
			}

		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			att, err := attachments.Import(ctx, path)
			if err != nil {
				fmt.Printf("attach failed: %v\n", err)
				continue
			}
			pendingAttachments = append(pendingAttachments, att.ID)
			fmt.Printf("Attached %s (%s, %d bytes)\n", att.Name, att.Mime, att.Size)

		case line == "/gc":
			removed, err := attachments.SweepOrphans(ctx)
			if err != nil {
				fmt.Printf("gc failed: %v\n", err)
				continue
			}
			fmt.Printf("Removed %d orphan attachment(s)\n", removed)

		default:
			sendTurn(ctx, orchestrator, conv, line, pendingAttachments)
			pendingAttachments = nil
		}
	}
	return scanner.Err()
}

func sendTurn(ctx context.Context, orchestrator *services.StreamOrchestrator, conv *models.Conversation, text string, attachmentIDs []string) {
	handle, err := orchestrator.SendMessage(ctx, conv.ID, text, services.SendOptions{
		AttachmentIDs: attachmentIDs,
	})
	if err != nil {
		fmt.Printf("send failed: %v\n", err)
		return
	}

	result := <-handle.Done
	if result.SearchErr != nil {
		fmt.Printf("[web search unavailable: %s]\n", result.SearchErr.Hint)
	}
	switch result.State {
	case services.TurnStateCompleted:
		fmt.Println(result.Text)
		if result.Usage != nil {
			logger.Debug("Turn completed",
				zap.Int("input_tokens", result.Usage.InputTokens),
				zap.Int("output_tokens", result.Usage.OutputTokens))
		}
	case services.TurnStateCancelled:
		fmt.Println("[cancelled]")
		if result.Text != "" {
			fmt.Println(result.Text)
		}
	case services.TurnStateFailed:
		if result.Text != "" {
			fmt.Println(result.Text)
		}
		if result.Err != nil {
			fmt.Printf("[%s] %s\n", result.Err.Code, result.Err.Message)
			if result.Err.Hint != "" {
				fmt.Printf("Hint: %s\n", result.Err.Hint)
			}
		}
	}
}
