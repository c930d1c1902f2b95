package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"

	"github.com/cbegin/moogsynth-go"
	"github.com/cbegin/moogsynth-go/internal/inspect"
	"github.com/cbegin/moogsynth-go/internal/ladder"
	"github.com/cbegin/moogsynth-go/internal/synth"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

const (
	windowW    = 1100
	windowH    = 720
	minWindowW = 980
	minWindowH = 680

	textScale = 2
	charW     = 7 * textScale
	lineH     = 14 * textScale

	sliderH     = 34
	sliderPanel = 420

	maxCachedText = 512
)

var (
	bgColor         = color.RGBA{192, 192, 192, 255}
	panelColor      = color.RGBA{192, 192, 192, 255}
	borderColor     = color.RGBA{128, 128, 128, 255}
	bevelLight      = color.RGBA{255, 255, 255, 255}
	bevelDarker     = color.RGBA{64, 64, 64, 255}
	sunkenBgColor   = color.RGBA{24, 24, 32, 255}
	sliderFillColor = color.RGBA{0, 0, 128, 255}
	stepColor       = color.RGBA{80, 200, 255, 220}
	stepActiveColor = color.RGBA{255, 190, 60, 255}
)

// sliderSpec maps a 0..1 slider onto a parameter range. Exponential
// sliders suit frequency and time values.
type sliderSpec struct {
	id       synth.ParamID
	label    string
	min, max float64
	exp      bool
}

var sliders = []sliderSpec{
	{synth.Cutoff, "Cutoff", 40, 18000, true},
	{synth.Resonance, "Reso", 0, 1, false},
	{synth.FilterEnvDecay, "F.Decay", 0.01, 4, true},
	{synth.FilterEnabled, "Filter", 0, 1, false},
	{synth.SquareAmp, "Square", 0, 1, false},
	{synth.SawAmp, "Saw", 0, 1, false},
	{synth.SubAmp, "Sub", 0, 1, false},
	{synth.PWMStrength, "PWM", 0, 1, false},
	{synth.PWMFrequency, "PWM Hz", 0.01, 10, true},
	{synth.AEnvAttack, "Attack", 0.001, 2, true},
	{synth.AEnvDecay, "Decay", 0.001, 2, true},
	{synth.AEnvSustain, "Sustain", 0, 1, false},
	{synth.AEnvRelease, "Release", 0.001, 4, true},
}

func (s sliderSpec) toValue(pos float64) float64 {
	pos = clamp(pos, 0, 1)
	if s.exp {
		return s.min * math.Pow(s.max/s.min, pos)
	}
	return s.min + (s.max-s.min)*pos
}

func (s sliderSpec) toPos(v float64) float64 {
	if s.exp {
		if v <= s.min {
			return 0
		}
		return clamp(math.Log(v/s.min)/math.Log(s.max/s.min), 0, 1)
	}
	return clamp((v-s.min)/(s.max-s.min), 0, 1)
}

type uiLayout struct {
	play     image.Rectangle
	variant  image.Rectangle
	tempo    image.Rectangle
	sliders  image.Rectangle
	steps    image.Rectangle
	spectrum image.Rectangle
	status   image.Rectangle
}

type game struct {
	sampleRate int
	variant    ladder.Variant
	player     *moogsynth.Player
	analyzer   *inspect.Analyzer
	events     <-chan moogsynth.PlaybackEvent
	cancel     context.CancelFunc
	params     synth.Params
	tempo      float64

	dragging    int // slider index, -1 none, -2 tempo
	currentStep int

	scopeImg *ebiten.Image
	scopeW   int
	scopeH   int
	wave     []float32
	spec     []float64
	wavePeak float64

	status    string
	statusErr bool

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(sampleRate int, variant ladder.Variant) (*game, error) {
	g := &game{
		sampleRate: sampleRate,
		variant:    variant,
		params:     synth.DefaultParams(),
		tempo:      120,
		dragging:   -1,
		status:     "Ready",
		textCache:  make(map[string]*ebiten.Image, 256),
		viewW:      windowW,
		viewH:      windowH,
	}
	if err := g.rebuildPlayer(); err != nil {
		return nil, err
	}
	return g, nil
}

// rebuildPlayer replaces the player, keeping the current parameters. The
// filter variant is fixed per engine, so switching it needs a new one.
func (g *game) rebuildPlayer() error {
	wasPlaying := g.cancel != nil
	g.stop()
	if g.player != nil {
		g.params = g.player.Engine().Params()
	}
	pl, err := moogsynth.NewPlayer(g.sampleRate,
		moogsynth.WithFilterVariant(g.variant),
		moogsynth.WithParameters(g.params),
	)
	if err != nil {
		return err
	}
	pl.Sequencer().SetTempo(g.tempo)
	g.player = pl
	g.analyzer = pl.Analyzer()
	g.events = pl.Watch()
	g.wave = make([]float32, g.analyzer.FFTSize())
	g.spec = make([]float64, g.analyzer.Bins())
	if wasPlaying {
		g.start()
	}
	return nil
}

func (g *game) start() {
	if g.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	pl := g.player
	go func() {
		if err := pl.Play(ctx); err != nil {
			log.Printf("play: %v", err)
		}
	}()
	g.setStatus("Playing")
}

func (g *game) stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	g.cancel = nil
	g.setStatus("Stopped")
}

func (g *game) Update() error {
	g.pollEvents()
	g.handleMouse()
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	l := g.layoutRects()

	playLabel := "Play"
	if g.cancel != nil {
		playLabel = "Stop"
	}
	g.drawButton(screen, l.play, playLabel)
	g.drawButton(screen, l.variant, "Ladder: "+g.variant.String())
	g.drawTempoSlider(screen, l.tempo)
	g.drawPanel(screen, l.sliders)
	g.drawParamSliders(screen, l.sliders)
	g.drawSunkenPanel(screen, l.steps)
	g.drawSteps(screen, l.steps)
	g.drawDarkPanel(screen, l.spectrum)
	g.drawSpectrum(screen, l.spectrum)
	g.drawSunkenPanel(screen, l.status)
	g.drawStatus(screen, l.status)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	outsideW = max(outsideW, minWindowW)
	outsideH = max(outsideH, minWindowH)
	g.viewW = outsideW
	g.viewH = outsideH
	return outsideW, outsideH
}

func (g *game) Close() {
	g.stop()
	_ = g.player.Stop()
}

func (g *game) layoutRects() uiLayout {
	const pad = 8
	w, h := g.viewW, g.viewH
	top := pad + 44
	statusTop := h - pad - 36
	var l uiLayout
	l.play = image.Rect(pad, pad, pad+140, pad+36)
	l.variant = image.Rect(l.play.Max.X+pad, pad, l.play.Max.X+pad+300, pad+36)
	l.tempo = image.Rect(l.variant.Max.X+pad, pad, w-pad, pad+36)
	l.sliders = image.Rect(pad, top, pad+sliderPanel, statusTop-pad)
	l.steps = image.Rect(l.sliders.Max.X+pad, top, w-pad, top+90)
	l.spectrum = image.Rect(l.sliders.Max.X+pad, l.steps.Max.Y+pad, w-pad, statusTop-pad)
	l.status = image.Rect(pad, statusTop, w-pad, h-pad)
	return l
}

func (g *game) pollEvents() {
	for {
		select {
		case ev := <-g.events:
			switch ev.Kind {
			case moogsynth.EventNoteScheduled:
				g.currentStep = ev.Step
			case moogsynth.EventQueueFull:
				g.setError("event queue full")
			}
		default:
			return
		}
	}
}

func (g *game) handleMouse() {
	mx, my := ebiten.CursorPosition()
	l := g.layoutRects()

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		switch {
		case pointInRect(mx, my, l.play):
			if g.cancel != nil {
				g.stop()
			} else {
				g.start()
			}
		case pointInRect(mx, my, l.variant):
			if g.variant == ladder.Direct {
				g.variant = ladder.Huovilainen
			} else {
				g.variant = ladder.Direct
			}
			if err := g.rebuildPlayer(); err != nil {
				g.setError(err.Error())
			}
		case pointInRect(mx, my, l.tempo):
			g.dragging = -2
		case pointInRect(mx, my, l.sliders):
			if i := (my - l.sliders.Min.Y - 8) / sliderH; i >= 0 && i < len(sliders) {
				g.dragging = i
			}
		}
	}
	if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		g.dragging = -1
		return
	}
	switch {
	case g.dragging == -2:
		trackX, trackW := sliderTrack(l.tempo)
		g.tempo = 30 + 270*clamp(float64(mx-trackX)/float64(trackW), 0, 1)
		g.player.Sequencer().SetTempo(math.Round(g.tempo))
	case g.dragging >= 0:
		s := sliders[g.dragging]
		trackX, trackW := sliderTrack(l.sliders)
		g.player.SetParameter(s.id, s.toValue(float64(mx-trackX)/float64(trackW)))
	}
}

func sliderTrack(rect image.Rectangle) (int, int) {
	return rect.Min.X + 150, max(20, rect.Dx()-166)
}

func (g *game) drawParamSliders(screen *ebiten.Image, rect image.Rectangle) {
	for i, s := range sliders {
		y := rect.Min.Y + 8 + i*sliderH
		v := g.player.Parameter(s.id)
		g.drawText(screen, s.label, rect.Min.X+8, y+2)
		trackX, trackW := sliderTrack(rect)
		g.drawTrack(screen, trackX, y+sliderH/2-4, trackW, s.toPos(v))
	}
}

func (g *game) drawTempoSlider(screen *ebiten.Image, rect image.Rectangle) {
	g.drawPanel(screen, rect)
	g.drawText(screen, fmt.Sprintf("%3.0f BPM", g.tempo), rect.Min.X+8, rect.Min.Y+4)
	trackX, trackW := sliderTrack(rect)
	g.drawTrack(screen, trackX, rect.Min.Y+rect.Dy()/2-4, trackW, (g.tempo-30)/270)
}

func (g *game) drawTrack(screen *ebiten.Image, trackX, trackY, trackW int, pos float64) {
	// Sunken track groove.
	ebitenutil.DrawRect(screen, float64(trackX), float64(trackY), float64(trackW), 8, bevelDarker)
	ebitenutil.DrawRect(screen, float64(trackX), float64(trackY), float64(trackW-1), 1, borderColor)
	ebitenutil.DrawRect(screen, float64(trackX), float64(trackY), 1, 7, borderColor)
	fillW := int(float64(trackW) * clamp(pos, 0, 1))
	if fillW > 2 {
		ebitenutil.DrawRect(screen, float64(trackX+1), float64(trackY+1), float64(fillW-1), 6, sliderFillColor)
	}
	// Raised knob.
	knobX := min(max(trackX+fillW-5, trackX-5), trackX+trackW-5)
	g.drawPanel(screen, image.Rect(knobX, trackY-4, knobX+10, trackY+12))
}

// drawSteps plots the pattern as pitch bars, lowest note at the bottom.
func (g *game) drawSteps(screen *ebiten.Image, rect image.Rectangle) {
	opts := g.player.Sequencer().Options()
	cells := inspect.NoteGrid(opts.Pattern, opts.Transpose, g.player.Engine().NoteFrequency)
	if len(cells) == 0 {
		return
	}
	lo, hi := cells[0].Note, cells[0].Note
	for _, c := range cells {
		lo = min(lo, c.Note)
		hi = max(hi, c.Note)
	}
	span := float64(max(1, hi-lo))
	inner := rect.Inset(8)
	cellW := float64(inner.Dx()) / float64(len(cells))
	for _, c := range cells {
		h := 8 + (float64(inner.Dy())-8)*float64(c.Note-lo)/span
		x := float64(inner.Min.X) + float64(c.Step)*cellW
		col := stepColor
		if c.Step == g.currentStep {
			col = stepActiveColor
		}
		ebitenutil.DrawRect(screen, x+1, float64(inner.Max.Y)-h, cellW-2, h, col)
	}
}

func (g *game) drawSpectrum(screen *ebiten.Image, rect image.Rectangle) {
	inner := rect.Inset(8)
	width, height := inner.Dx(), inner.Dy()
	if width <= 0 || height <= 0 {
		return
	}
	if g.scopeImg == nil || g.scopeW != width || g.scopeH != height {
		g.scopeW = width
		g.scopeH = height
		g.scopeImg = ebiten.NewImage(width, height)
	}
	g.scopeImg.Fill(color.RGBA{14, 16, 22, 255})

	n := g.analyzer.Waveform(g.wave)
	waveH := int(float64(height) * 0.45)
	g.drawWaveform(g.scopeImg, g.wave[:n], width, waveH)
	ebitenutil.DrawRect(g.scopeImg, 0, float64(waveH), float64(width), 1, color.RGBA{50, 54, 68, 180})

	bins := g.analyzer.Spectrum(g.spec)
	g.drawSpectrumBars(g.scopeImg, g.spec[:bins], width, height-waveH-1, waveH+1)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(inner.Min.X), float64(inner.Min.Y))
	screen.DrawImage(g.scopeImg, op)
}

// drawWaveform plots samples from the first rising zero crossing, scaled by
// a peak follower that opens fast and closes slowly.
func (g *game) drawWaveform(dst *ebiten.Image, samples []float32, width int, height int) {
	if len(samples) < 2 || width < 2 || height < 4 {
		return
	}
	mid := float64(height / 2)
	ebitenutil.DrawRect(dst, 0, mid, float64(width), 1, color.RGBA{40, 44, 58, 100})

	peak := 0.01
	for _, s := range samples {
		peak = max(peak, math.Abs(float64(s)))
	}
	coef := 0.995
	if peak > g.wavePeak {
		coef = 0.3
	}
	g.wavePeak = max(0.01, g.wavePeak*coef+peak*(1-coef))
	gain := (mid - 2) / g.wavePeak

	start := risingZeroCrossing(samples[:len(samples)/4])
	view := samples[start:]
	step := float64(len(view)) / float64(width)
	waveColor := color.RGBA{80, 200, 255, 220}
	py := mid - float64(view[0])*gain
	for px := 1; px < width; px++ {
		y := mid - float64(view[min(int(float64(px)*step), len(view)-1)])*gain
		ebitenutil.DrawLine(dst, float64(px-1), py, float64(px), y, waveColor)
		py = y
	}
}

// risingZeroCrossing returns the first index where samples cross zero
// upwards, or 0.
func risingZeroCrossing(samples []float32) int {
	for i := 1; i < len(samples); i++ {
		if samples[i-1] <= 0 && samples[i] > 0 {
			return i
		}
	}
	return 0
}

// drawSpectrumBars draws log-spaced bars from 20 Hz to Nyquist over a
// 90 dB range.
func (g *game) drawSpectrumBars(dst *ebiten.Image, db []float64, width int, height int, yOffset int) {
	const (
		numBars = 64
		topDB   = 0.0
		rangeDB = 90.0
		minHz   = 20.0
	)
	if len(db) < 2 || width < numBars || height < 4 {
		return
	}
	maxHz := float64(g.sampleRate) / 2
	barW := float64(width) / numBars
	for b := 0; b < numBars; b++ {
		f0 := minHz * math.Pow(maxHz/minHz, float64(b)/numBars)
		f1 := minHz * math.Pow(maxHz/minHz, float64(b+1)/numBars)
		k0 := int(f0 / maxHz * float64(len(db)-1))
		k1 := max(int(f1/maxHz*float64(len(db)-1)), k0+1)
		level := inspect.FloorDB
		for k := k0; k < k1 && k < len(db); k++ {
			level = max(level, db[k])
		}
		v := clamp((level-topDB+rangeDB)/rangeDB, 0, 1)
		barH := v * float64(height-2)
		x := float64(b) * barW
		y := float64(yOffset) + float64(height-2) - barH
		ebitenutil.DrawRect(dst, x+1, y, barW-1, barH, barColor(v))
	}
}

// barStops runs blue at the floor through green to orange at the top.
var barStops = [...]color.RGBA{
	{30, 80, 200, 220},
	{50, 200, 255, 220},
	{190, 230, 155, 220},
	{255, 130, 55, 220},
}

func barColor(v float64) color.RGBA {
	pos := clamp(v, 0, 1) * float64(len(barStops)-1)
	i := min(int(pos), len(barStops)-2)
	t := pos - float64(i)
	a, b := barStops[i], barStops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t) }
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 220}
}

func (g *game) drawStatus(screen *ebiten.Image, rect image.Rectangle) {
	msg := fmt.Sprintf("Status: %s  |  peak %.0f Hz  |  clock %d", g.status, g.analyzer.PeakFrequency(), g.player.Engine().TimeSamples())
	if g.statusErr {
		msg = "Status: ERROR - " + g.status
	}
	maxChars := max(8, (rect.Dx()-16)/charW)
	g.drawText(screen, shortenEnd(msg, maxChars), rect.Min.X+8, rect.Min.Y+6)
}

func (g *game) setError(msg string) {
	g.status = msg
	g.statusErr = true
}

func (g *game) setStatus(msg string) {
	g.status = msg
	g.statusErr = false
}

func fillRect(screen *ebiten.Image, rect image.Rectangle, c color.Color) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), c)
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, panelColor)
	bevel(screen, rect, true)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, sunkenBgColor)
	bevel(screen, rect, false)
}

func (g *game) drawDarkPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, color.Black)
	bevel(screen, rect, false)
}

func (g *game) drawButton(screen *ebiten.Image, rect image.Rectangle, label string) {
	g.drawPanel(screen, rect)
	labelW := len([]rune(label)) * charW
	x := rect.Min.X + (rect.Dx()-labelW)/2
	y := rect.Min.Y + (rect.Dy()-lineH)/2
	g.drawText(screen, label, x, y)
}

// bevel outlines rect with a two-pixel 3D edge. Raised panels are lit
// from the top left; sunken ones from the bottom right.
func bevel(screen *ebiten.Image, rect image.Rectangle, raised bool) {
	outerLit, outerShade := bevelLight, bevelDarker
	innerShade := borderColor
	if !raised {
		outerLit, outerShade = borderColor, bevelLight
		innerShade = bevelDarker
	}
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, outerLit)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, outerLit)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, outerShade)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, outerShade)
	if raised {
		ebitenutil.DrawRect(screen, x+1, y+h-2, w-3, 1, innerShade)
		ebitenutil.DrawRect(screen, x+w-2, y+1, 1, h-3, innerShade)
	} else {
		ebitenutil.DrawRect(screen, x+1, y+1, w-3, 1, innerShade)
		ebitenutil.DrawRect(screen, x+1, y+2, 1, h-4, innerShade)
	}
}

// drawText renders msg with the debug font at textScale over a two-pixel
// drop shadow. Rendered strings are cached; slider labels repeat every frame.
func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	if msg == "" {
		return
	}
	img, ok := g.textCache[msg]
	if !ok {
		if len(g.textCache) >= maxCachedText {
			clear(g.textCache)
		}
		img = ebiten.NewImage(max(1, len([]rune(msg))*7), 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		g.textCache[msg] = img
	}
	for _, pass := range [...]struct {
		dx, dy float64
		shadow bool
	}{{2, 2, true}, {0, 0, false}} {
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(textScale, textScale)
		op.GeoM.Translate(float64(x)+pass.dx, float64(y)+pass.dy)
		if pass.shadow {
			op.ColorScale.Scale(0, 0, 0, 1)
		}
		screen.DrawImage(img, op)
	}
}

func shortenEnd(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(r[:max(0, maxChars)])
	}
	return string(r[:maxChars-3]) + "..."
}

func clamp(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func pointInRect(x, y int, rect image.Rectangle) bool {
	return x >= rect.Min.X && x < rect.Max.X && y >= rect.Min.Y && y < rect.Max.Y
}

func main() {
	var (
		sampleRate  = flag.Int("sample-rate", 48000, "output sample rate")
		variantName = flag.String("variant", "direct", "ladder filter: direct|huovilainen")
	)
	flag.Parse()

	variant, err := ladder.ParseVariant(*variantName)
	if err != nil {
		log.Fatal(err)
	}
	g, err := newGame(*sampleRate, variant)
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("moogsynth-go")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
