package notifier

import (
	"strconv"

	"pullbot/internal/pull"
	"pullbot/pkg/tgui"
)

func render(o pull.Outcome, cfg Config) tgui.H {
	switch o.Kind {
	case pull.Searching:
		return tgui.Card{
			Icon:  "🔍",
			Title: "Searching",
			Body:  tgui.Concat("Looking for ", tgui.B(o.Keyword), " images..."),
		}.HTML()
	case pull.CooldownDenied:
		c := tgui.Card{
			Icon:  "⏰",
			Title: "Cooldown active",
			Body:  tgui.Concat("You can use this command again in ", tgui.B(strconv.Itoa(o.Remaining)), " seconds"),
		}
		if cfg.Cooldown > 0 {
			c.Footer = tgui.I("Cooldown: " + strconv.Itoa(int(cfg.Cooldown.Seconds())) + " seconds")
		}
		return c.HTML()
	case pull.InvalidAmount:
		return tgui.Card{
			Icon:  "❌",
			Title: "Invalid amount",
			Body:  tgui.Esc("Number must be between " + strconv.Itoa(pull.MinAmount) + " and " + strconv.Itoa(pull.MaxAmount) + "!"),
		}.HTML()
	case pull.NoResults:
		return tgui.Card{
			Icon:  "❌",
			Title: "No results",
			Body:  tgui.Concat("No images found for ", tgui.B(o.Keyword)),
		}.HTML()
	case pull.DownloadFailed:
		return tgui.Card{
			Icon:    "❌",
			Title:   "Download failed",
			Body:    tgui.Esc("Found results but couldn't download valid images"),
			Section: "🔧 Possible issues",
			Items:   []string{"Images too large (8 MB or more)", "Network connection problems", "Invalid image formats"},
		}.HTML()
	case pull.ProcessingFailed:
		return tgui.Card{
			Icon:    "❌",
			Title:   "Processing failed",
			Body:    tgui.Esc("Downloaded files could not be processed"),
			Section: "🔧 Possible issues",
			Items:   []string{"Corrupted image files", "Unsupported file formats", "Network download errors"},
		}.HTML()
	case pull.DatabaseError:
		return tgui.Card{
			Icon:    "❌",
			Title:   "Search error",
			Body:    tgui.Lines(tgui.Esc("An error occurred while searching"), tgui.Pre(o.Message)),
			Section: "💡 Try again",
			Items:   []string{"Check your search term", "Wait a moment and retry", "Use different keywords"},
		}.HTML()
	default:
		return tgui.Esc(o.Kind.String())
	}
}

// renderPartial replaces the progress message when only some albums arrived.
func renderPartial(sent, total int) tgui.H {
	return tgui.Card{
		Icon:  "⚠️",
		Title: "Partly delivered",
		Body:  tgui.Concat("Sent ", tgui.B(strconv.Itoa(sent)), " of ", tgui.B(strconv.Itoa(total)), " images, the rest failed to upload"),
	}.HTML()
}
