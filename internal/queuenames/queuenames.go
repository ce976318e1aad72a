package queuenames

const (
	VideoReconcile = "video_reconcile"
)

var Priority = []string{
	VideoReconcile,
}
