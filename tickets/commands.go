package tickets

import (
	"github.com/bwmarrin/discordgo"

	"ticketbot/storage"
)

var manageChannelsPerm int64 = discordgo.PermissionManageChannels

// Commands returns the slash commands served by the orchestrator.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ticket",
			Description:              "Ticket system management",
			DefaultMemberPermissions: &manageChannelsPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "panel", Description: "Post the ticket panel in this channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "list", Description: "List all active tickets",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "config", Description: "Show the current ticket configuration",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
		{Name: "close", Description: "Close the current ticket"},
		{Name: "reopen", Description: "Reopen the current ticket"},
		{
			Name: "status", Description: "Change the status of the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "status", Description: "New status", Required: true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Open", Value: string(storage.StatusOpen)},
						{Name: "In progress", Value: string(storage.StatusInProgress)},
						{Name: "On hold", Value: string(storage.StatusOnHold)},
					},
				},
			},
		},
		{
			Name: "priority", Description: "Change the priority of the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "level", Description: "New priority", Required: true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Low", Value: string(storage.PriorityLow)},
						{Name: "Medium", Value: string(storage.PriorityMedium)},
						{Name: "High", Value: string(storage.PriorityHigh)},
						{Name: "Urgent", Value: string(storage.PriorityUrgent)},
					},
				},
			},
		},
		{
			Name: "add", Description: "Add a user to the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to add", Required: true},
			},
		},
		{
			Name: "remove", Description: "Remove a user from the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to remove", Required: true},
			},
		},
		{
			Name: "note", Description: "Add an internal staff note to the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "Note text", Required: true, MaxLength: 1000},
			},
		},
		{Name: "transcript", Description: "Send a transcript of the current ticket to the log"},
	}
}
