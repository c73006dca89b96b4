package tcs34725

const AddressDefault = 0x29

// Command byte: CMD plus auto-increment so 16-bit and block reads advance.
const cmdAutoIncrement = 0xA0

const (
	regEnable  = 0x00
	regATime   = 0x01
	regAILTL   = 0x04 // clear channel low threshold, 16-bit LE
	regAIHTL   = 0x06 // clear channel high threshold, 16-bit LE
	regControl = 0x0F
	regID      = 0x12
	regStatus  = 0x13
	regCDataL  = 0x14
	regRDataL  = 0x16
	regGDataL  = 0x18
	regBDataL  = 0x1A

	// Special function: clear channel interrupt clear (0x80|0x60|0x06 on the wire).
	sfClearInterrupt = 0x66
)

const (
	enablePON  = 0x01
	enableAEN  = 0x02
	enableAIEN = 0x10

	statusAVALID = 0x01
	statusAINT   = 0x10
)

// Accepted ID register values.
const (
	ChipIDTCS34725 = 0x44
	ChipIDTCS34721 = 0x10
)
