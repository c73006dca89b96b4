package bmx280

// I2C addresses (SDO low / SDO high).
const (
	AddressLow     = 0x76
	AddressDefault = 0x77
)

// Chip identifiers read from regChipID.
const (
	ChipIDBMP280   = 0x58
	ChipIDBME280   = 0x60
	chipIDBMP280S1 = 0x56 // engineering samples
	chipIDBMP280S2 = 0x57
)

const (
	// Calibration (little-endian 16-bit words unless noted).
	regDigT1 = 0x88
	regDigT2 = 0x8A
	regDigT3 = 0x8C
	regDigP1 = 0x8E
	regDigP2 = 0x90
	regDigP3 = 0x92
	regDigP4 = 0x94
	regDigP5 = 0x96
	regDigP6 = 0x98
	regDigP7 = 0x9A
	regDigP8 = 0x9C
	regDigP9 = 0x9E
	regDigH1 = 0xA1 // u8
	regDigH2 = 0xE1 // s16
	regDigH3 = 0xE3 // u8
	regDigH4 = 0xE4 // [11:4] in 0xE4, [3:0] in 0xE5 low nibble
	regDigH5 = 0xE5 // [3:0] in 0xE5 high nibble, [11:4] in 0xE6
	regDigH6 = 0xE7 // s8

	regChipID    = 0xD0
	regSoftReset = 0xE0
	regCtrlHum   = 0xF2
	regStatus    = 0xF3
	regCtrlMeas  = 0xF4
	regConfig    = 0xF5

	// Data (MSB first). Pressure and temperature are 20-bit in bits [23:4].
	regPressMSB = 0xF7
	regTempMSB  = 0xFA
	regHumMSB   = 0xFD

	softResetCmd = 0xB6
)

// Register defaults: humidity x4, temperature x1, pressure x16, normal mode.
const (
	defaultCtrlHum  = 0x03
	defaultCtrlMeas = 0x3F
)
