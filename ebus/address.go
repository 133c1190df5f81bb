package ebus

// BroadcastAddr is the destination address of telegrams addressed to all nodes.
const BroadcastAddr byte = 0xFE

// slaveOffset is the distance between a master address and its slave address.
const slaveOffset = 5

// isMasterNibble reports whether n is one of the five nibbles a master address
// is built from (0, 1, 3, 7, F).
func isMasterNibble(n byte) bool {
	switch n {
	case 0x0, 0x1, 0x3, 0x7, 0xF:
		return true
	default:
		return false
	}
}

// IsMasterAddr reports whether addr is one of the 25 master addresses.
func IsMasterAddr(addr byte) bool {
	return isMasterNibble(addr>>4) && isMasterNibble(addr&0x0F)
}

// IsValidAddr reports whether addr may appear as a telegram address.
// SYN and ESC are never valid addresses.
func IsValidAddr(addr byte) bool {
	return addr != SYN && addr != ESC
}

// IsSlaveAddr reports whether addr is a valid destination that is neither a
// master address nor the broadcast address.
func IsSlaveAddr(addr byte) bool {
	return IsValidAddr(addr) && !IsMasterAddr(addr) && addr != BroadcastAddr
}

// SlaveAddrOf returns the slave address paired with the master address addr.
func SlaveAddrOf(master byte) byte { return master + slaveOffset }

// MasterAddrOf returns the master address paired with the slave address addr,
// and false if addr has no master counterpart.
func MasterAddrOf(slave byte) (byte, bool) {
	master := slave - slaveOffset
	if !IsMasterAddr(master) {
		return 0, false
	}

	return master, true
}

// PriorityClass returns the priority class (low nibble) of a master address.
// Masters of the same class may retry arbitration at the next SYN.
func PriorityClass(master byte) byte { return master & 0x0F }
