// pkg/buspirate/params.go
package buspirate

// ClockPolarity is the SPI clock's active level.
type ClockPolarity int

const (
	ClockActiveHigh ClockPolarity = iota
	ClockActiveLow
)

// idle converts to the wire's idle-state flag: an active-low clock idles high.
func (p ClockPolarity) idle() bool {
	return p == ClockActiveLow
}

// ClockPhase is the clock edge on which data is sampled.
type ClockPhase int

const (
	LeadingEdge ClockPhase = iota
	TrailingEdge
)

func (p ClockPhase) trailing() bool {
	return p == TrailingEdge
}

// ChipSelectPolarity is the chip select line's active level.
type ChipSelectPolarity int

const (
	ChipSelectActiveLow ChipSelectPolarity = iota
	ChipSelectActiveHigh
)

// idle converts to the wire's idle-state flag: active-low CS idles high.
func (p ChipSelectPolarity) idle() bool {
	return p == ChipSelectActiveLow
}

// I2CConfig are the parameters of I2C mode.
type I2CConfig struct {
	Speed        uint32
	ClockStretch bool
}

func (c I2CConfig) mode() ModeConfiguration {
	speed, stretch := c.Speed, c.ClockStretch
	return ModeConfiguration{Speed: &speed, ClockStretch: &stretch}
}

// SPIConfig are the parameters of SPI mode. DataBits of zero is not sent and
// leaves the adapter's default word size.
type SPIConfig struct {
	Speed         uint32
	DataBits      uint8
	ClockPolarity ClockPolarity
	ClockPhase    ClockPhase
	ChipSelect    ChipSelectPolarity
}

func (c SPIConfig) mode() ModeConfiguration {
	speed := c.Speed
	polarity := c.ClockPolarity.idle()
	phase := c.ClockPhase.trailing()
	cs := c.ChipSelect.idle()
	mc := ModeConfiguration{
		Speed:          &speed,
		ClockPolarity:  &polarity,
		ClockPhase:     &phase,
		ChipSelectIdle: &cs,
	}
	if c.DataBits != 0 {
		bits := c.DataBits
		mc.DataBits = &bits
	}
	return mc
}
