package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/client"
)

var (
	stylePrompt = color.New(color.FgCyan, color.OpBold)
	styleSystem = color.New(color.FgYellow)
	styleError  = color.New(color.FgRed, color.OpBold)
	styleAuthor = color.New(color.FgGreen, color.OpBold)
	styleMuted  = color.New(color.FgGray)
)

const timeLayout = "15:04"

// renderEvent formats one relay event for the terminal. It returns "" for
// events that only refresh state.
func renderEvent(ev chat.Outbound) string {
	switch ev := ev.(type) {
	case chat.HistoryEvent:
		var b strings.Builder
		b.WriteString(styleMuted.Sprintf("-- #%s, %d earlier messages --", ev.Room, len(ev.Messages)))
		for _, m := range ev.Messages {
			b.WriteString("\n")
			b.WriteString(renderMessage(m))
		}
		return b.String()
	case chat.MessageEvent:
		return renderMessage(ev.MessageView)
	case chat.SystemEvent:
		if ev.Clear {
			return styleSystem.Render("* " + ev.Text + " (history cleared)")
		}
		return styleSystem.Render("* " + ev.Text)
	case chat.PresenceEvent:
		return styleMuted.Sprintf("online in #%s (%d): %s", ev.Room, ev.Count, strings.Join(ev.Users, ", "))
	case chat.TypingEvent:
		if len(ev.Users) == 0 {
			return ""
		}
		return styleMuted.Sprintf("%s typing...", strings.Join(ev.Users, ", "))
	case chat.ErrorEvent:
		return styleError.Sprintf("error (%s): %s", ev.Code, ev.Reason)
	default:
		return ""
	}
}

func renderMessage(m chat.MessageView) string {
	line := styleMuted.Render(m.Time.Local().Format(timeLayout)) + " " + styleAuthor.Render(m.User) + ": " + m.Text
	if m.Image != "" {
		line += styleMuted.Render(" [image]")
	}
	return line
}

func renderState(s client.State) string {
	switch s {
	case client.Open:
		return styleSystem.Render("connected")
	case client.Connecting:
		return styleMuted.Render("connecting...")
	default:
		return styleError.Render("disconnected")
	}
}

// renderRooms writes the room list as a borderless table.
func renderRooms(w io.Writer, rooms []client.RoomInfo, current string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "Room", "Online", "Creator", "Created"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, r := range rooms {
		marker := ""
		if r.Name == current {
			marker = "*"
		}
		table.Append([]string{marker, r.Name, strconv.Itoa(r.Online), r.Creator, r.CreatedAt.Local().Format("2006-01-02 15:04")})
	}
	table.Render()
}

func printf(w io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(w, format, a...)
}
