package ui

import "github.com/gdamore/tcell/v2"

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color
	OnlineColor       tcell.Color
	OwnMessageColor   tcell.Color
	PendingColor      tcell.Color
	TypingColor       tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		BorderFocusColor:  tcell.ColorLightSkyBlue,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorAqua,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorOrange,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorAqua,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		NumericKeyColor:   tcell.ColorFuchsia,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,
		OnlineColor:       tcell.ColorLimeGreen,
		OwnMessageColor:   tcell.ColorLightSkyBlue,
		PendingColor:      tcell.ColorGray,
		TypingColor:       tcell.ColorNavajoWhite,
	}
}

// LightTheme is for terminals with a light background.
func LightTheme() *Theme {
	t := DefaultTheme()
	t.BgColor = tcell.ColorWhite
	t.FgColor = tcell.ColorDarkSlateGray
	t.BorderColor = tcell.ColorSteelBlue
	t.TableHeaderFg = tcell.ColorBlack
	t.TableHeaderBg = tcell.ColorWhite
	t.TableCursorFg = tcell.ColorWhite
	t.TableCursorBg = tcell.ColorSteelBlue
	t.MenuKeyColor = tcell.ColorSteelBlue
	t.TitleColor = tcell.ColorPurple
	t.CounterColor = tcell.ColorSaddleBrown
	t.FlashInfoColor = tcell.ColorDarkGreen
	t.OnlineColor = tcell.ColorGreen
	t.OwnMessageColor = tcell.ColorNavy
	t.TypingColor = tcell.ColorDarkOrange
	return t
}

// StateColor returns the color of a connection state.
func (t *Theme) StateColor(state string) tcell.Color {
	switch state {
	case "CONNECTED":
		return t.OnlineColor
	case "CONNECTING", "RECONNECTING":
		return t.FlashWarnColor
	default:
		return t.FlashErrColor
	}
}

// ThemeByName returns the named theme, falling back to the dark one.
func ThemeByName(name string) *Theme {
	if name == "light" {
		return LightTheme()
	}
	return DefaultTheme()
}
