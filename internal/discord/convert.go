package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/Veraticus/ollamacord/internal/bot"
)

func applicationCommands(specs []bot.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, spec := range specs {
		cmd := &discordgo.ApplicationCommand{
			Name:        spec.Name,
			Description: spec.Description,
		}
		for _, opt := range spec.Options {
			cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        opt.Name,
				Description: opt.Description,
				Required:    opt.Required,
			})
		}
		out = append(out, cmd)
	}
	return out
}

// invocation converts an application command interaction. String options are kept;
// other option types are ignored since no command declares them.
func invocation(i *discordgo.Interaction, guild string) bot.Invocation {
	data := i.ApplicationCommandData()

	inv := bot.Invocation{
		Command: data.Name,
		Options: make(map[string]string, len(data.Options)),
		User:    invoker(i),
		Guild:   guild,
	}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Options[opt.Name] = opt.StringValue()
		}
	}
	return inv
}

// invoker returns the member in guilds and the user in direct messages.
func invoker(i *discordgo.Interaction) bot.User {
	u := i.User
	if i.Member != nil && i.Member.User != nil {
		u = i.Member.User
	}
	if u == nil {
		return bot.User{}
	}
	return bot.User{ID: u.ID, Name: u.Username}
}
