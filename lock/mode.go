package lock

import "fmt"

// Mode is one of the five capability tokens the repository exposes its
// operations through: Readonly < LocalWrite < Online < Backup < Vacuum.
// Each holds the local/remote lock handles that prove the required lock
// combination is held; a mode can only be constructed by successfully
// acquiring those locks (see Acquire), so the type system rejects calling a
// Vacuum-only operation without a Vacuum token in hand.
type Mode struct {
	level  AccessLevel
	local  *Handle
	remote *Handle
	dirty  string // path to the dirty-file, non-empty while a write mode is held
}

// AccessLevel identifies which of the five tokens a Mode represents.
type AccessLevel int

const (
	Readonly AccessLevel = iota
	LocalWrite
	Online
	Backup
	Vacuum
)

func (l AccessLevel) String() string {
	switch l {
	case Readonly:
		return "readonly"
	case LocalWrite:
		return "local-write"
	case Online:
		return "online"
	case Backup:
		return "backup"
	case Vacuum:
		return "vacuum"
	default:
		return fmt.Sprintf("mode(%d)", int(l))
	}
}

// requirement describes the local/remote lock combination a Level needs.
type requirement struct {
	localExclusive  bool
	remoteExclusive bool
	remoteRequired  bool // false means the remote lock is not touched at all (Readonly, LocalWrite)
}

func requirementFor(level AccessLevel) requirement {
	switch level {
	case Readonly:
		return requirement{localExclusive: false, remoteRequired: false}
	case LocalWrite:
		return requirement{localExclusive: true, remoteRequired: false}
	case Online:
		return requirement{localExclusive: true, remoteRequired: true, remoteExclusive: false}
	case Backup:
		return requirement{localExclusive: true, remoteRequired: true, remoteExclusive: false}
	case Vacuum:
		return requirement{localExclusive: true, remoteRequired: true, remoteExclusive: true}
	default:
		panic(fmt.Sprintf("lock: unknown mode level %d", int(level)))
	}
}

// Acquire locks localFolder (and, if required, remoteFolder) for the given
// level and, for any write-capable level, creates the dirty-file at
// dirtyPath. Release must be called to drop the locks and clear the
// dirty-file on clean exit.
func Acquire(level AccessLevel, localFolder, remoteFolder *Folder, dirtyPath string, createDirty func() error) (*Mode, error) {
	req := requirementFor(level)

	local, err := localFolder.Lock(req.localExclusive)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire local %s: %w", level, err)
	}

	var remote *Handle
	if req.remoteRequired {
		remote, err = remoteFolder.Lock(req.remoteExclusive)
		if err != nil {
			local.Release()
			return nil, fmt.Errorf("lock: acquire remote %s: %w", level, err)
		}
	}

	var dirty string
	if level >= LocalWrite {
		if createDirty != nil {
			if err := createDirty(); err != nil {
				if remote != nil {
					remote.Release()
				}
				local.Release()
				return nil, err
			}
		}
		dirty = dirtyPath
	}

	return &Mode{level: level, local: local, remote: remote, dirty: dirty}, nil
}

// Level reports which token m is.
func (m *Mode) Level() AccessLevel { return m.level }

// Implies reports whether m grants at least the capabilities of other,
// i.e. transitions compose downward: Vacuum implies Backup implies Online
// implies LocalWrite implies Readonly.
func (m *Mode) Implies(other AccessLevel) bool {
	return m.level >= other
}

// Release drops the held locks. clearDirty is invoked first, and only if
// it succeeds are the locks released, matching "dirty-file removed only on
// clean exit".
func (m *Mode) Release(clearDirty func() error) error {
	if m.dirty != "" && clearDirty != nil {
		if err := clearDirty(); err != nil {
			return err
		}
	}
	if m.remote != nil {
		if err := m.remote.Release(); err != nil {
			return err
		}
	}
	return m.local.Release()
}
