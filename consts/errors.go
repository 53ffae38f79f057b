package consts

import "errors"

var (
	ErrRuleNotFound    = errors.New("rule not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrMailboxNotFound = errors.New("mailbox not found")

	ErrDBCommitTransactionFailed = errors.New("commit failed")
	ErrDBBeginTransactionFailed  = errors.New("start transaction failed")

	ErrS3UploadFailed = errors.New("s3 upload failed")

	ErrSerializationFailed = errors.New("serialization failed")
)

// AdvisoryLockID is the Postgres advisory lock taken while schema
// migrations run, so a migration never races a second admin invocation.
const AdvisoryLockID = 923847291

