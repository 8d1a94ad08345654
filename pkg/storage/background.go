package storage

// StartBackgroundWorkers starts the checkpoint worker. Ephemeral engines have none.
func (se *StorageEngine) StartBackgroundWorkers() {
	if se.checkpointMgr == nil {
		return
	}
	se.backgroundWg.Add(1)
	go se.checkpointMgr.Run()
}

// StopBackgroundWorkers stops background workers and waits for them to exit.
func (se *StorageEngine) StopBackgroundWorkers() {
	se.stopOnce.Do(func() {
		close(se.stopChan)
	})
	se.backgroundWg.Wait()
}
