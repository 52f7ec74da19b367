package bot

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/config"
	"attendbot/internal/db"
	"attendbot/internal/timeouts"

	"github.com/bwmarrin/discordgo"
)

const registerAttempts = 3

var (
	dmAllowedCommands = map[string]bool{
		"help": true,
	}
)

type Bot struct {
	config     config.Discord
	api        *attendance.API
	store      db.BotStore
	session    *discordgo.Session
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

func New(cfg config.Discord, api *attendance.API, store db.BotStore) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	// Member roles are needed to map the configured HR role.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	log.Printf("Bot intents: %d", session.Identify.Intents)

	return &Bot{
		config:  cfg,
		api:     api,
		store:   store,
		session: session,
	}, nil
}

func (b *Bot) registerGuildCommands(guildID string) error {
	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		err := b.registerGuildCommandsOnce(guildID)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("Attempt %d to register commands failed: %v", i+1, err)
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("failed to register commands after %d attempts: %w", registerAttempts, lastErr)
}

func (b *Bot) registerGuildCommandsOnce(guildID string) error {
	serverName := getServerName(b.session, guildID)
	log.Print(formatLogMessage(guildID, "Registering commands", "BOT", serverName))

	existing, err := b.session.ApplicationCommands(b.config.ClientID, guildID)
	if err != nil {
		return fmt.Errorf("error getting existing commands: %w", err)
	}
	for _, v := range existing {
		if err := b.session.ApplicationCommandDelete(b.config.ClientID, guildID, v.ID); err != nil {
			log.Print(formatLogMessage(guildID, fmt.Sprintf("%s: Failed to delete command (%v)", v.Name, err), "BOT", serverName))
		}
	}

	for _, v := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.config.ClientID, guildID, v); err != nil {
			return fmt.Errorf("error creating command %s: %w", v.Name, err)
		}
		log.Print(formatLogMessage(guildID, fmt.Sprintf("%s: Registered command", v.Name), "BOT", serverName))
	}
	return nil
}

// Start opens the gateway session, registers commands in every guild and
// blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	log.Println("Starting attendance bot...")

	for {
		if err := b.session.Open(); err != nil {
			log.Printf("Error opening Discord session: %v. Retrying in 5 seconds...", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		log.Printf("Session opened successfully (Session ID: %s)", b.session.State.SessionID)
		break
	}

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type == discordgo.InteractionApplicationCommand {
			b.handleCommand(s, i)
		}
	})

	for _, guild := range b.session.State.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			log.Printf("Error registering commands for guild %s: %v", guild.ID, err)
		}
	}
	b.session.AddHandler(b.handleGuildCreate)

	log.Println("Bot is now running. Press CTRL-C to exit.")

	<-ctx.Done()
	return b.Shutdown()
}

// Shutdown waits for running handlers, removes the guild commands and closes
// the gateway session. It is safe to call more than once.
func (b *Bot) Shutdown() error {
	if !b.markShutdown() {
		return nil
	}

	log.Println("Waiting for active handlers to complete...")
	b.wg.Wait()

	for _, guild := range b.session.State.Guilds {
		serverName := getServerName(b.session, guild.ID)
		registered, err := b.session.ApplicationCommands(b.config.ClientID, guild.ID)
		if err != nil {
			log.Print(formatLogMessage(guild.ID, fmt.Sprintf("Error getting commands: %v", err), "BOT", serverName))
			continue
		}
		for _, cmd := range registered {
			if err := b.session.ApplicationCommandDelete(b.config.ClientID, guild.ID, cmd.ID); err != nil {
				log.Print(formatLogMessage(guild.ID, fmt.Sprintf("%s: Failed to remove command (%v)", cmd.Name, err), "BOT", serverName))
			}
		}
	}

	log.Println("Closing Discord session...")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}
	log.Println("Bot shutdown completed")
	return nil
}

// markShutdown flags the bot as stopping. It reports false when another
// caller already did.
func (b *Bot) markShutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return false
	}
	b.isShutdown = true
	return true
}

// beginHandler registers a running handler unless shutdown has started.
// Both happen under mu so Shutdown never waits on a stale counter.
func (b *Bot) beginHandler() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Bot is ready! Connected to %d guilds", len(r.Guilds))
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Print(formatLogMessage(g.ID, "Bot joined guild", "BOT", g.Name))

	if err := b.registerGuildCommands(g.ID); err != nil {
		log.Print(formatLogMessage(g.ID, fmt.Sprintf("Error registering commands: %v", err), "BOT", g.Name))
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.beginHandler() {
		rejectInteraction(s, i, "The bot is restarting, try again in a moment")
		return
	}
	defer b.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Printf("Panic in command handler for user %s in guild %s:\nError: %v\nStack Trace:\n%s",
				interactionUsername(i), i.GuildID, r, string(buf[:n]))
			respondWithError(s, i, "An internal error occurred")
		}
	}()

	commandName := i.ApplicationCommandData().Name
	if i.GuildID == "" && !dmAllowedCommands[commandName] {
		rejectInteraction(s, i, fmt.Sprintf("The `/%s` command can only be used in a server", commandName))
		return
	}

	// Replies are sent as edits of this deferred ephemeral response.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Print(formatLogMessage(i.GuildID, "Error acknowledging interaction: "+err.Error(), "", ""))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Command)
	defer cancel()

	logCommand(i, commandName)

	switch commandName {
	case "help":
		b.handleHelp(s, i)
	case "company":
		b.handleCompany(ctx, s, i)
	case "clockin":
		b.handleClockIn(ctx, s, i)
	case "clockout":
		b.handleClockOut(ctx, s, i)
	case "entries":
		b.handleEntries(ctx, s, i)
	case "report":
		b.handleReport(ctx, s, i)
	case "dashboard":
		b.handleDashboard(ctx, s, i)
	case "history":
		b.handleHistory(ctx, s, i)
	case "clearhistory":
		b.handleClearHistory(ctx, s, i)
	default:
		log.Print(formatLogMessage(i.GuildID, "Unknown command: "+commandName, "", ""))
		respondWithError(s, i, "Unknown command")
	}
}
